package models

import "time"

// UserRole is the access role of a user.
type UserRole string

// UserRole constants.
const (
	// UserRoleUser is a regular end-user.
	UserRoleUser UserRole = "user"
	// UserRoleAdmin can reach the admin API.
	UserRoleAdmin UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleUser, UserRoleAdmin:
		return true
	default:
		return false
	}
}

// User represents an end-user account keyed by the identity provider's openId.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OpenID      string `gorm:"type:varchar(64);not null;uniqueIndex"` // Identity provider subject.
	Name        string `gorm:"type:text"`                             // Display name.
	Email       string `gorm:"type:varchar(320)"`                     // Email address.
	LoginMethod string `gorm:"type:varchar(64)"`                      // Identity provider login method.

	Role UserRole `gorm:"type:varchar(16);not null;default:user"` // Access role.

	Balance    int64 `gorm:"not null;default:0;check:chk_users_balance,balance >= 0"` // Prepaid balance in minor units.
	TotalSpent int64 `gorm:"not null;default:0"`                                      // Cumulative charges in minor units.
	RateLimit  int   `gorm:"not null;default:0"`                                      // Rate limit per second (0 uses the default).

	APIKeys []APIKey `gorm:"foreignKey:UserID"` // Related API keys.

	LastSignedInAt time.Time `gorm:"not null"`                // Last identity login.
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
