package models

import (
	"time"

	"gorm.io/gorm"
)

// utc normalizes a caller-supplied timestamp; zero stays zero so that
// autoCreateTime still applies.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// BeforeCreate stores ledger timestamps in UTC.
func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	t.CreatedAt = utc(t.CreatedAt)
	t.UpdatedAt = utc(t.UpdatedAt)
	return nil
}

// BeforeCreate stores message timestamps in UTC so history orders by instant.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	m.CreatedAt = utc(m.CreatedAt)
	return nil
}
