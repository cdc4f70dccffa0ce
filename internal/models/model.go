package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ModelType is the modality of a catalog model.
type ModelType string

// ModelType constants.
const (
	ModelTypeChat  ModelType = "chat"
	ModelTypeImage ModelType = "image"
	ModelTypeAudio ModelType = "audio"
)

// Valid reports whether t is a known model type.
func (t ModelType) Valid() bool {
	switch t {
	case ModelTypeChat, ModelTypeImage, ModelTypeAudio:
		return true
	default:
		return false
	}
}

// ModelStatus marks whether a model can be used.
type ModelStatus string

// ModelStatus constants.
const (
	ModelStatusActive   ModelStatus = "active"
	ModelStatusInactive ModelStatus = "inactive"
)

// Valid reports whether s is a known model status.
func (s ModelStatus) Valid() bool {
	switch s {
	case ModelStatusActive, ModelStatusInactive:
		return true
	default:
		return false
	}
}

// Model is a priced catalog entry. Prices are minor units per 1000 tokens.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelName string    `gorm:"type:varchar(128);not null;uniqueIndex"` // Unique model name.
	ModelType ModelType `gorm:"type:varchar(16);not null;default:chat"` // Modality.

	InputTokenPrice  decimal.Decimal  `gorm:"type:decimal(16,6);not null;default:0"` // Prompt price per 1K tokens.
	OutputTokenPrice decimal.Decimal  `gorm:"type:decimal(16,6);not null;default:0"` // Completion price per 1K tokens.
	ImagePrice       *decimal.Decimal `gorm:"type:decimal(12,2)"`                    // Flat price per image.

	Status      ModelStatus `gorm:"type:varchar(16);not null;default:active"` // Availability.
	Description string      `gorm:"type:text"`                                // Free-form description.

	Extra        datatypes.JSON `gorm:"type:jsonb"`              // Extra catalog fields.
	LastSyncedAt time.Time      `gorm:"not null"`                // Last catalog sync that saw the model.
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime"` // Update timestamp.
}
