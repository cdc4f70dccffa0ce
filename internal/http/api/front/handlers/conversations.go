package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/catalog"
	"github.com/router-for-me/ChatBilling/internal/chat"
	"github.com/router-for-me/ChatBilling/internal/conversation"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/models"
)

// ConversationHandler serves conversations, history and chat turns.
type ConversationHandler struct {
	conversations *conversation.Store
	catalog       *catalog.Store
	coordinator   *chat.Coordinator
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(conversations *conversation.Store, catalogStore *catalog.Store, coordinator *chat.Coordinator) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, catalog: catalogStore, coordinator: coordinator}
}

type createConversationRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// Create starts a conversation bound to an active model.
func (h *ConversationHandler) Create(c *gin.Context) {
	var body createConversationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	model := strings.TrimSpace(body.Model)
	if model == "" {
		respond.BadRequest(c, "model is required")
		return
	}
	ctx := c.Request.Context()
	entry, errLookup := h.catalog.Lookup(ctx, model)
	if errLookup != nil {
		respond.Error(c, errLookup)
		return
	}
	if entry.Status != models.ModelStatusActive {
		respond.Error(c, apperr.New(apperr.KindNotFound, "model not available"))
		return
	}
	id, errCreate := h.conversations.Create(ctx, getUserID(c), body.Title, entry.ModelName)
	if errCreate != nil {
		respond.Error(c, errCreate)
		return
	}
	row, errGet := h.conversations.Get(ctx, id)
	if errGet != nil {
		respond.Error(c, errGet)
		return
	}
	c.JSON(http.StatusCreated, formatConversation(row))
}

// List returns the caller's conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	rows, errList := h.conversations.ListByUser(c.Request.Context(), getUserID(c))
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatConversation(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// Delete removes a conversation and its messages.
func (h *ConversationHandler) Delete(c *gin.Context) {
	row, ok := h.owned(c)
	if !ok {
		return
	}
	if errDelete := h.conversations.Delete(c.Request.Context(), row.ID); errDelete != nil {
		respond.Error(c, errDelete)
		return
	}
	c.Status(http.StatusNoContent)
}

type updateConversationRequest struct {
	Status models.ConversationStatus `json:"status"`
}

// Update archives or restores a conversation.
func (h *ConversationHandler) Update(c *gin.Context) {
	row, ok := h.owned(c)
	if !ok {
		return
	}
	var body updateConversationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	if errStatus := h.conversations.SetStatus(c.Request.Context(), row.ID, body.Status); errStatus != nil {
		respond.Error(c, errStatus)
		return
	}
	row.Status = body.Status
	c.JSON(http.StatusOK, formatConversation(row))
}

// History returns the conversation's messages, oldest first.
func (h *ConversationHandler) History(c *gin.Context) {
	row, ok := h.owned(c)
	if !ok {
		return
	}
	messages, errHistory := h.conversations.History(c.Request.Context(), row.ID)
	if errHistory != nil {
		respond.Error(c, errHistory)
		return
	}
	out := make([]gin.H, 0, len(messages))
	for i := range messages {
		out = append(out, formatMessage(&messages[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// Send runs one billed chat turn.
func (h *ConversationHandler) Send(c *gin.Context) {
	conversationID, ok := respond.IDParam(c, "id")
	if !ok {
		return
	}
	var body sendMessageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	result, errSend := h.coordinator.SendMessage(c.Request.Context(), chat.SendRequest{
		UserID:         getUserID(c),
		ConversationID: conversationID,
		Content:        body.Content,
		Model:          body.Model,
		APIKeyID:       getAPIKeyID(c),
	})
	if errSend != nil {
		respond.Error(c, errSend)
		return
	}
	c.JSON(http.StatusOK, result)
}

// owned loads the :id conversation and checks it belongs to the caller.
func (h *ConversationHandler) owned(c *gin.Context) (*models.Conversation, bool) {
	id, ok := respond.IDParam(c, "id")
	if !ok {
		return nil, false
	}
	row, errGet := loadOwned(c.Request.Context(), h.conversations, id, getUserID(c))
	if errGet != nil {
		respond.Error(c, errGet)
		return nil, false
	}
	return row, true
}

func loadOwned(ctx context.Context, store *conversation.Store, conversationID, userID uint64) (*models.Conversation, error) {
	row, errGet := store.Get(ctx, conversationID)
	if errGet != nil {
		return nil, errGet
	}
	if row.UserID != userID {
		return nil, apperr.New(apperr.KindForbidden, "conversation belongs to another user")
	}
	return row, nil
}

func formatConversation(conv *models.Conversation) gin.H {
	return gin.H{
		"id":         conv.ID,
		"title":      conv.Title,
		"model":      conv.Model,
		"status":     conv.Status,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
	}
}

func formatMessage(m *models.Message) gin.H {
	return gin.H{
		"id":            m.ID,
		"role":          m.Role,
		"content":       m.Content,
		"input_tokens":  m.InputTokens,
		"output_tokens": m.OutputTokens,
		"model":         m.Model,
		"created_at":    m.CreatedAt,
	}
}
