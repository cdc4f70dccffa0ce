package models

import "time"

// TransactionType classifies ledger rows.
type TransactionType string

// TransactionType constants.
const (
	// TransactionTypeCharge debits the balance for usage.
	TransactionTypeCharge TransactionType = "charge"
	// TransactionTypeRefund credits back a previous charge.
	TransactionTypeRefund TransactionType = "refund"
	// TransactionTypeRecharge credits prepaid funds.
	TransactionTypeRecharge TransactionType = "recharge"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeCharge, TransactionTypeRefund, TransactionTypeRecharge:
		return true
	default:
		return false
	}
}

// Sign returns -1 for types that reduce the balance and +1 otherwise.
func (t TransactionType) Sign() int64 {
	switch t {
	case TransactionTypeCharge:
		return -1
	case TransactionTypeRefund, TransactionTypeRecharge:
		return 1
	default:
		return 0
	}
}

// TransactionStatus is the settlement state of a ledger row.
type TransactionStatus string

// TransactionStatus constants.
const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Valid reports whether s is a known transaction status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// Transaction is an append-only ledger row.
type Transaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_transactions_user_created,priority:1"` // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"`                                       // Owning user.

	APIKeyID *uint64 `gorm:"index"`                                            // API key used, nulled on key deletion.
	APIKey   *APIKey `gorm:"foreignKey:APIKeyID;constraint:OnDelete:SET NULL"` // API key record.

	Type   TransactionType   `gorm:"type:varchar(16);not null"`                 // Row type.
	Status TransactionStatus `gorm:"type:varchar(16);not null;default:pending"` // Settlement state.

	Model        string `gorm:"type:varchar(128);index"`                            // Model that produced the charge.
	InputTokens  int64  `gorm:"not null;default:0"`                                 // Prompt tokens.
	OutputTokens int64  `gorm:"not null;default:0"`                                 // Completion tokens.
	Amount       int64  `gorm:"not null;check:chk_transactions_amount,amount > 0"` // Positive amount in minor units.

	RefundOfID *uint64 `gorm:"uniqueIndex"` // Charge refunded by this row.
	Note       string  `gorm:"type:text"`   // Operator or failure note.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_transactions_user_created,priority:2"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`                                              // Last update timestamp.
}

// TotalTokens returns prompt plus completion tokens.
func (t Transaction) TotalTokens() int64 {
	return t.InputTokens + t.OutputTokens
}
