package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting is a runtime-tunable key with a JSON value.
type Setting struct {
	Key       string         `gorm:"type:varchar(128);primaryKey"` // Setting key.
	Value     datatypes.JSON `gorm:"type:jsonb"`                   // JSON encoded value.
	UpdatedAt time.Time      `gorm:"not null"`                     // Last update timestamp.
}
