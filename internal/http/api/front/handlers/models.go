package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/catalog"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/models"
)

// ModelHandler lists the chat models a user may pick.
type ModelHandler struct {
	catalog *catalog.Store
}

// NewModelHandler constructs a ModelHandler.
func NewModelHandler(store *catalog.Store) *ModelHandler {
	return &ModelHandler{catalog: store}
}

// List returns active catalog models.
func (h *ModelHandler) List(c *gin.Context) {
	rows, errList := h.catalog.List(c.Request.Context(), true)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, FormatModel(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// FormatModel renders a catalog entry with decimal prices as strings.
func FormatModel(m *models.Model) gin.H {
	out := gin.H{
		"id":                 m.ID,
		"model_name":         m.ModelName,
		"model_type":         m.ModelType,
		"input_token_price":  m.InputTokenPrice.String(),
		"output_token_price": m.OutputTokenPrice.String(),
		"status":             m.Status,
		"description":        m.Description,
		"last_synced_at":     m.LastSyncedAt,
	}
	if m.ImagePrice != nil {
		out["image_price"] = m.ImagePrice.String()
	}
	return out
}
