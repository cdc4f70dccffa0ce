package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apikeys"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/models"
)

// APIKeyHandler manages API keys on behalf of users.
type APIKeyHandler struct {
	keys *apikeys.Store
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(store *apikeys.Store) *APIKeyHandler {
	return &APIKeyHandler{keys: store}
}

// CreateForUser issues a key for the :id user.
func (h *APIKeyHandler) CreateForUser(c *gin.Context) {
	userID, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	var body struct {
		Name  string `json:"name"`
		Quota *int64 `json:"quota"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	if body.Quota != nil && *body.Quota <= 0 {
		respond.BadRequest(c, "quota must be positive")
		return
	}
	created, errCreate := h.keys.Create(c.Request.Context(), userID, body.Name, body.Quota)
	if errCreate != nil {
		respond.Error(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":              created.Key.ID,
		"user_id":         created.Key.UserID,
		"name":            created.Key.Name,
		"prefix":          created.Key.Prefix,
		"remaining_quota": created.Key.RemainingQuota,
		"key":             created.Secret,
	})
}

// ListByUser returns the :id user's keys.
func (h *APIKeyHandler) ListByUser(c *gin.Context) {
	userID, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	rows, errList := h.keys.List(c.Request.Context(), userID)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":              row.ID,
			"name":            row.Name,
			"prefix":          row.Prefix,
			"status":          row.Status,
			"call_count":      row.CallCount,
			"tokens_used":     row.TokensUsed,
			"spent_amount":    row.SpentAmount,
			"remaining_quota": row.RemainingQuota,
			"last_used_at":    row.LastUsedAt,
			"created_at":      row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// Enable reactivates a key.
func (h *APIKeyHandler) Enable(c *gin.Context) {
	h.setStatus(c, models.APIKeyStatusActive)
}

// Disable blocks a key without deleting it.
func (h *APIKeyHandler) Disable(c *gin.Context) {
	h.setStatus(c, models.APIKeyStatusInactive)
}

func (h *APIKeyHandler) setStatus(c *gin.Context, status models.APIKeyStatus) {
	userID, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	keyID, ok := respond.IDParam(c, "key_id")
	if !ok {
		return
	}
	if errStatus := h.keys.SetStatus(c.Request.Context(), userID, keyID, status); errStatus != nil {
		respond.Error(c, errStatus)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
