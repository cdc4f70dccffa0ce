package models

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

// ConversationStatus constants.
const (
	// ConversationStatusActive accepts new messages.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusArchived is read-only.
	ConversationStatusArchived ConversationStatus = "archived"
)

// Valid reports whether s is a known conversation status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationStatusActive, ConversationStatusArchived:
		return true
	default:
		return false
	}
}

// MessageRole identifies the author of a message.
type MessageRole string

// MessageRole constants.
const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known message role.
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	default:
		return false
	}
}

// Conversation groups an ordered message history owned by one user.
type Conversation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user.

	Title  string             `gorm:"type:varchar(255);not null"`               // Conversation title.
	Model  string             `gorm:"type:varchar(128);not null"`               // Bound model name.
	Status ConversationStatus `gorm:"type:varchar(16);not null;default:active"` // Lifecycle state.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Message is one append-only entry of a conversation.
type Message struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64       `gorm:"not null;index:idx_messages_conversation_order,priority:1"` // Parent conversation ID.
	Conversation   Conversation `gorm:"foreignKey:ConversationID"`                                 // Parent conversation.

	Role    MessageRole `gorm:"type:varchar(16);not null"` // Author role.
	Content string      `gorm:"type:text;not null"`        // Message body.

	InputTokens  int64  `gorm:"not null;default:0"` // Prompt tokens (assistant only).
	OutputTokens int64  `gorm:"not null;default:0"` // Completion tokens (assistant only).
	Model        string `gorm:"type:varchar(128)"`  // Model used.

	CreatedAt time.Time `gorm:"not null;index:idx_messages_conversation_order,priority:2"` // Creation timestamp.
}
