package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/ledger"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/users"
)

// UserHandler manages user accounts and their balances.
type UserHandler struct {
	users  *users.Store
	ledger *ledger.Store
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(userStore *users.Store, ledgerStore *ledger.Store) *UserHandler {
	return &UserHandler{users: userStore, ledger: ledgerStore}
}

// List returns users with optional search, role and paging.
func (h *UserHandler) List(c *gin.Context) {
	limit, ok := respond.IntQuery(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := respond.IntQuery(c, "offset", 0)
	if !ok {
		return
	}
	role := models.UserRole(strings.TrimSpace(c.Query("role")))
	if role != "" && !role.Valid() {
		respond.BadRequest(c, "invalid role")
		return
	}
	rows, total, errList := h.users.List(c.Request.Context(), users.ListFilter{
		Search: c.Query("search"),
		Role:   role,
		Limit:  limit,
		Offset: offset,
	})
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatUser(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "total": total})
}

// Get returns a user by ID.
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	user, errGet := h.users.Get(c.Request.Context(), id)
	if errGet != nil {
		respond.Error(c, errGet)
		return
	}
	c.JSON(http.StatusOK, formatUser(user))
}

// updateUserRequest defines the request body for user updates.
type updateUserRequest struct {
	Role      *models.UserRole `json:"role"`
	RateLimit *int             `json:"rate_limit"`
}

// Update changes a user's role or rate limit.
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	if body.RateLimit != nil && *body.RateLimit < 0 {
		respond.BadRequest(c, "rate_limit must be non-negative")
		return
	}
	user, errApply := h.users.Apply(c.Request.Context(), id, users.Update{Role: body.Role, RateLimit: body.RateLimit})
	if errApply != nil {
		respond.Error(c, errApply)
		return
	}
	c.JSON(http.StatusOK, formatUser(user))
}

// Recharge credits the user's balance.
func (h *UserHandler) Recharge(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	var body struct {
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	row, errRecharge := h.ledger.Recharge(c.Request.Context(), id, body.Amount, body.Note)
	if errRecharge != nil {
		respond.Error(c, errRecharge)
		return
	}
	balance, errBalance := h.ledger.GetBalance(c.Request.Context(), id)
	if errBalance != nil {
		respond.Error(c, errBalance)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction_id": row.ID, "balance": balance})
}

// Transactions lists the user's ledger rows, newest first.
func (h *UserHandler) Transactions(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	limit, ok := respond.IntQuery(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := respond.IntQuery(c, "offset", 0)
	if !ok {
		return
	}
	rows, errList := h.ledger.ListTransactions(c.Request.Context(), id, limit, offset)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatTransaction(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// Reconcile compares the balance column with the ledger.
func (h *UserHandler) Reconcile(c *gin.Context) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	report, errReconcile := h.ledger.Reconcile(c.Request.Context(), id)
	if errReconcile != nil {
		respond.Error(c, errReconcile)
		return
	}
	c.JSON(http.StatusOK, report)
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
		"rate_limit":        u.RateLimit,
		"last_signed_in_at": u.LastSignedInAt,
		"created_at":        u.CreatedAt,
		"updated_at":        u.UpdatedAt,
	}
}
