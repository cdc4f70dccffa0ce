package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/ledger"
	"github.com/router-for-me/ChatBilling/internal/models"
)

// TransactionHandler handles refunds of completed charges.
type TransactionHandler struct {
	ledger *ledger.Store
}

// NewTransactionHandler constructs a TransactionHandler.
func NewTransactionHandler(ledgerStore *ledger.Store) *TransactionHandler {
	return &TransactionHandler{ledger: ledgerStore}
}

// Refund credits back the :id charge. A charge is refunded at most once.
func (h *TransactionHandler) Refund(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			respond.BadRequest(c, "invalid json")
			return
		}
	}
	row, errRefund := h.ledger.Refund(c.Request.Context(), id, body.Note)
	if errRefund != nil {
		respond.Error(c, errRefund)
		return
	}
	c.JSON(http.StatusCreated, formatTransaction(&row))
}

func formatTransaction(t *models.Transaction) gin.H {
	return gin.H{
		"id":            t.ID,
		"user_id":       t.UserID,
		"api_key_id":    t.APIKeyID,
		"type":          t.Type,
		"status":        t.Status,
		"model":         t.Model,
		"input_tokens":  t.InputTokens,
		"output_tokens": t.OutputTokens,
		"amount":        t.Amount,
		"refund_of_id":  t.RefundOfID,
		"note":          t.Note,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
	}
}
