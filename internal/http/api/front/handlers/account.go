package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/ledger"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/security"
	"github.com/router-for-me/ChatBilling/internal/users"
)

// AccountHandler serves login, profile and ledger reads.
type AccountHandler struct {
	users  *users.Store
	ledger *ledger.Store
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(userStore *users.Store, ledgerStore *ledger.Store) *AccountHandler {
	return &AccountHandler{users: userStore, ledger: ledgerStore}
}

// Login creates or refreshes the user asserted by the identity token.
func (h *AccountHandler) Login(c *gin.Context) {
	value, _ := c.Get(ContextIdentityKey)
	id, ok := value.(security.Identity)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "kind": "unauthorized"})
		return
	}
	user, errUpsert := h.users.Upsert(c.Request.Context(), id, time.Now().UTC())
	if errUpsert != nil {
		respond.Error(c, errUpsert)
		return
	}
	c.JSON(http.StatusOK, formatUser(user))
}

// Profile returns the authenticated user.
func (h *AccountHandler) Profile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "kind": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, formatUser(user))
}

// Balance returns the current balance in minor units.
func (h *AccountHandler) Balance(c *gin.Context) {
	balance, errBalance := h.ledger.GetBalance(c.Request.Context(), getUserID(c))
	if errBalance != nil {
		respond.Error(c, errBalance)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// Transactions lists the user's ledger rows, newest first.
func (h *AccountHandler) Transactions(c *gin.Context) {
	limit, ok := respond.IntQuery(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := respond.IntQuery(c, "offset", 0)
	if !ok {
		return
	}
	rows, errList := h.ledger.ListTransactions(c.Request.Context(), getUserID(c), limit, offset)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, FormatTransaction(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func formatUser(u *models.User) gin.H {
	return gin.H{
		"id":                u.ID,
		"open_id":           u.OpenID,
		"name":              u.Name,
		"email":             u.Email,
		"login_method":      u.LoginMethod,
		"role":              u.Role,
		"balance":           u.Balance,
		"total_spent":       u.TotalSpent,
		"last_signed_in_at": u.LastSignedInAt,
		"created_at":        u.CreatedAt,
	}
}

// FormatTransaction renders a ledger row.
func FormatTransaction(t *models.Transaction) gin.H {
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
	}
}
