package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apikeys"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/models"
)

// APIKeyHandler manages the caller's own API keys.
type APIKeyHandler struct {
	keys *apikeys.Store
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(store *apikeys.Store) *APIKeyHandler {
	return &APIKeyHandler{keys: store}
}

type createAPIKeyRequest struct {
	Name  string `json:"name"`
	Quota *int64 `json:"quota"` // Spend cap in minor units, omitted for unlimited.
}

// Create issues a key. The secret is only returned here.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var body createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	if body.Quota != nil && *body.Quota <= 0 {
		respond.BadRequest(c, "quota must be positive")
		return
	}
	created, errCreate := h.keys.Create(c.Request.Context(), getUserID(c), body.Name, body.Quota)
	if errCreate != nil {
		respond.Error(c, errCreate)
		return
	}
	out := formatAPIKey(&created.Key)
	out["key"] = created.Secret
	c.JSON(http.StatusCreated, out)
}

// List returns the caller's keys without secrets.
func (h *APIKeyHandler) List(c *gin.Context) {
	rows, errList := h.keys.List(c.Request.Context(), getUserID(c))
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatAPIKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// Get returns one key with its usage counters.
func (h *APIKeyHandler) Get(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	key, errGet := h.keys.Get(c.Request.Context(), getUserID(c), id)
	if errGet != nil {
		respond.Error(c, errGet)
		return
	}
	c.JSON(http.StatusOK, formatAPIKey(key))
}

// Delete removes a key; its transactions keep a null key reference.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	if errDelete := h.keys.Delete(c.Request.Context(), getUserID(c), id); errDelete != nil {
		respond.Error(c, errDelete)
		return
	}
	c.Status(http.StatusNoContent)
}

func formatAPIKey(k *models.APIKey) gin.H {
	return gin.H{
		"id":              k.ID,
		"name":            k.Name,
		"prefix":          k.Prefix,
		"status":          k.Status,
		"call_count":      k.CallCount,
		"tokens_used":     k.TokensUsed,
		"spent_amount":    k.SpentAmount,
		"remaining_quota": k.RemainingQuota,
		"last_used_at":    k.LastUsedAt,
		"created_at":      k.CreatedAt,
	}
}
