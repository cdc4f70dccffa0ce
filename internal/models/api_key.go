package models

import "time"

// APIKeyStatus marks whether a key can authenticate.
type APIKeyStatus string

// APIKeyStatus constants.
const (
	// APIKeyStatusActive keys authenticate requests.
	APIKeyStatusActive APIKeyStatus = "active"
	// APIKeyStatusInactive keys are rejected.
	APIKeyStatusInactive APIKeyStatus = "inactive"
)

// Valid reports whether s is a known key status.
func (s APIKeyStatus) Valid() bool {
	switch s {
	case APIKeyStatusActive, APIKeyStatusInactive:
		return true
	default:
		return false
	}
}

// APIKey is a user-owned secret for programmatic access.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Owning user ID.

	Name   string       `gorm:"type:varchar(255);not null"`               // Display name.
	Prefix string       `gorm:"type:varchar(16);not null"`                // Visible secret prefix.
	Digest string       `gorm:"type:varchar(64);not null;uniqueIndex"`    // Keyed digest of the secret.
	Status APIKeyStatus `gorm:"type:varchar(16);not null;default:active"` // Key status.

	CallCount      int64  `gorm:"not null;default:0"` // Completed calls made with the key.
	TokensUsed     int64  `gorm:"not null;default:0"` // Tokens consumed with the key.
	SpentAmount    int64  `gorm:"not null;default:0"` // Charges billed through the key in minor units.
	RemainingQuota *int64 // Spend left in minor units (nil is unlimited).

	LastUsedAt *time.Time // Last successful use.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
