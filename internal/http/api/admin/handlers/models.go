package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/catalog"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
)

const maxCatalogDocumentBytes = 4 << 20

// ModelHandler manages the model catalog.
type ModelHandler struct {
	catalog *catalog.Store
	syncer  *catalog.Syncer
}

// NewModelHandler constructs a ModelHandler. syncer may be nil when no
// catalog URL is configured.
func NewModelHandler(store *catalog.Store, syncer *catalog.Syncer) *ModelHandler {
	return &ModelHandler{catalog: store, syncer: syncer}
}

// List returns every catalog model, including inactive ones.
func (h *ModelHandler) List(c *gin.Context) {
	rows, errList := h.catalog.List(c.Request.Context(), false)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		m := &rows[i]
		row := gin.H{
			"id":                 m.ID,
			"model_name":         m.ModelName,
			"model_type":         m.ModelType,
			"input_token_price":  m.InputTokenPrice.String(),
			"output_token_price": m.OutputTokenPrice.String(),
			"status":             m.Status,
			"description":        m.Description,
			"extra":              m.Extra,
			"last_synced_at":     m.LastSyncedAt,
			"updated_at":         m.UpdatedAt,
		}
		if m.ImagePrice != nil {
			row["image_price"] = m.ImagePrice.String()
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Upsert merges a catalog document (YAML or JSON) into the catalog.
// Models absent from the document are left untouched.
func (h *ModelHandler) Upsert(c *gin.Context) {
	data, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxCatalogDocumentBytes+1))
	if errRead != nil {
		respond.BadRequest(c, "read body failed")
		return
	}
	if len(data) > maxCatalogDocumentBytes {
		respond.BadRequest(c, "catalog document too large")
		return
	}
	rows, errParse := catalog.ParseDocument(data)
	if errParse != nil {
		respond.BadRequest(c, errParse.Error())
		return
	}
	if errUpsert := h.catalog.Upsert(c.Request.Context(), rows, time.Now().UTC(), false); errUpsert != nil {
		respond.Error(c, errUpsert)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": len(rows)})
}

// Sync pulls the remote catalog now.
func (h *ModelHandler) Sync(c *gin.Context) {
	if h.syncer == nil {
		respond.BadRequest(c, "catalog url not configured")
		return
	}
	count, errSync := h.syncer.SyncOnce(c.Request.Context())
	if errSync != nil {
		respond.Error(c, apperr.Wrap(apperr.KindServiceUnavailable, "catalog sync failed", errSync))
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": count})
}
