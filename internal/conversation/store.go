package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageInput describes a message to append.
type MessageInput struct {
	ConversationID uint64
	Role           models.MessageRole
	Content        string
	Model          string
	InputTokens    int64
	OutputTokens   int64
}

// Store persists conversations and their messages. It does not check
// ownership; callers compare Conversation.UserID first.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a conversation Store.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// Create inserts an active conversation and returns its ID.
func (s *Store) Create(ctx context.Context, userID uint64, title, model string) (uint64, error) {
	title = strings.TrimSpace(title)
	model = strings.TrimSpace(model)
	if userID == 0 {
		return 0, apperr.New(apperr.KindInvalidArgument, "user is required")
	}
	if model == "" {
		return 0, apperr.New(apperr.KindInvalidArgument, "model is required")
	}
	if title == "" {
		title = "New conversation"
	}
	row := models.Conversation{
		UserID: userID,
		Title:  title,
		Model:  model,
		Status: models.ConversationStatusActive,
	}
	if errCreate := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; errCreate != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "create conversation failed", errCreate)
	}
	return row.ID, nil
}

// Get returns the conversation or a NotFound error.
func (s *Store) Get(ctx context.Context, conversationID uint64) (*models.Conversation, error) {
	var row models.Conversation
	if errFind := s.db.WithContext(ctx).Where("id = ?", conversationID).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "conversation not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "query conversation failed", errFind)
	}
	return &row, nil
}

// AppendMessage inserts a message and returns its ID.
func (s *Store) AppendMessage(ctx context.Context, in MessageInput) (uint64, error) {
	if !in.Role.Valid() {
		return 0, apperr.New(apperr.KindInvalidArgument, fmt.Sprintf("unknown message role %q", in.Role))
	}
	if in.ConversationID == 0 {
		return 0, apperr.New(apperr.KindInvalidArgument, "conversation is required")
	}
	row := models.Message{
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		Model:          strings.TrimSpace(in.Model),
	}
	if in.Role == models.MessageRoleAssistant {
		row.InputTokens = in.InputTokens
		row.OutputTokens = in.OutputTokens
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.Conversation{}).Where("id = ?", in.ConversationID).Count(&count).Error; errCount != nil {
			return apperr.Wrap(apperr.KindInternal, "query conversation failed", errCount)
		}
		if count == 0 {
			return apperr.New(apperr.KindNotFound, "conversation not found")
		}
		if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
			return apperr.Wrap(apperr.KindInternal, "append message failed", errCreate)
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", in.ConversationID).
			Update("updated_at", row.CreatedAt).Error
	})
	if errTx != nil {
		return 0, errTx
	}
	return row.ID, nil
}

// History returns the messages of a conversation, oldest first.
func (s *Store) History(ctx context.Context, conversationID uint64) ([]models.Message, error) {
	var rows []models.Message
	if errFind := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load history failed", errFind)
	}
	return rows, nil
}

// ListByUser returns the user's conversations, most recently updated first.
func (s *Store) ListByUser(ctx context.Context, userID uint64) ([]models.Conversation, error) {
	var rows []models.Conversation
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list conversations failed", errFind)
	}
	return rows, nil
}

// SetStatus archives or restores a conversation.
func (s *Store) SetStatus(ctx context.Context, conversationID uint64, status models.ConversationStatus) error {
	if !status.Valid() {
		return apperr.New(apperr.KindInvalidArgument, fmt.Sprintf("unknown conversation status %q", status))
	}
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("status", status)
	if res.Error != nil {
		return apperr.Wrap(apperr.KindInternal, "update conversation failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "conversation not found")
	}
	return nil
}

// Delete removes the conversation and its messages.
func (s *Store) Delete(ctx context.Context, conversationID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errMessages := tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error; errMessages != nil {
			return apperr.Wrap(apperr.KindInternal, "delete messages failed", errMessages)
		}
		res := tx.Where("id = ?", conversationID).Delete(&models.Conversation{})
		if res.Error != nil {
			return apperr.Wrap(apperr.KindInternal, "delete conversation failed", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.KindNotFound, "conversation not found")
		}
		return nil
	})
}
