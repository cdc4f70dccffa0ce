// Package ledger persists balances and the append-only transaction log.
//
// Balance changes go through a single conditional UPDATE so that concurrent
// debits for one user serialize in the database rather than in the process.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the gorm-backed ledger.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a ledger Store.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// GetBalance returns the cached balance of a user.
func (s *Store) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	return readBalance(s.db.WithContext(ctx), userID)
}

// AppendTransaction inserts tx and returns its generated ID.
func (s *Store) AppendTransaction(ctx context.Context, tx *models.Transaction) (uint64, error) {
	if errValidate := validateTransaction(tx); errValidate != nil {
		return 0, errValidate
	}
	if errCreate := s.db.WithContext(ctx).Omit(clause.Associations).Create(tx).Error; errCreate != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "record transaction failed", errCreate)
	}
	return tx.ID, nil
}

// AdjustBalance applies delta atomically and returns the new balance.
// A debit that would make the balance negative fails with InsufficientFunds.
func (s *Store) AdjustBalance(ctx context.Context, userID uint64, delta int64) (int64, error) {
	var balance int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, errAdjust := adjustBalance(tx, userID, delta)
		if errAdjust != nil {
			return errAdjust
		}
		balance = next
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return balance, nil
}

// Debit charges amount against the user and settles the pending transaction
// txID in the same database transaction.
func (s *Store) Debit(ctx context.Context, userID, txID uint64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apperr.New(apperr.KindInvalidArgument, "debit amount must be positive")
	}
	var balance int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, errAdjust := adjustBalance(tx, userID, -amount)
		if errAdjust != nil {
			return errAdjust
		}
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND user_id = ? AND status = ?", txID, userID, models.TransactionStatusPending).
			Update("status", models.TransactionStatusCompleted)
		if res.Error != nil {
			return apperr.Wrap(apperr.KindInternal, "settle transaction failed", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.KindInternal, fmt.Sprintf("transaction %d is not pending", txID))
		}
		balance = next
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return balance, nil
}

// MarkFailed moves a pending transaction to failed and records note.
func (s *Store) MarkFailed(ctx context.Context, txID uint64, note string) error {
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", txID, models.TransactionStatusPending).
		Updates(map[string]any{
			"status": models.TransactionStatusFailed,
			"note":   strings.TrimSpace(note),
		})
	if res.Error != nil {
		return apperr.Wrap(apperr.KindInternal, "mark transaction failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "pending transaction not found")
	}
	return nil
}

// Recharge credits amount to the user as a completed recharge row.
func (s *Store) Recharge(ctx context.Context, userID uint64, amount int64, note string) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, apperr.New(apperr.KindInvalidArgument, "recharge amount must be positive")
	}
	row := models.Transaction{
		UserID: userID,
		Type:   models.TransactionTypeRecharge,
		Status: models.TransactionStatusCompleted,
		Amount: amount,
		Note:   strings.TrimSpace(note),
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, errAdjust := adjustBalance(tx, userID, amount); errAdjust != nil {
			return errAdjust
		}
		if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
			return apperr.Wrap(apperr.KindInternal, "record recharge failed", errCreate)
		}
		return nil
	})
	if errTx != nil {
		return models.Transaction{}, errTx
	}
	return row, nil
}

// Refund credits back a completed charge. A charge is refunded at most once.
func (s *Store) Refund(ctx context.Context, chargeID uint64, note string) (models.Transaction, error) {
	var row models.Transaction
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var charge models.Transaction
		if errFind := tx.Where("id = ?", chargeID).Take(&charge).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "transaction not found")
			}
			return apperr.Wrap(apperr.KindInternal, "query transaction failed", errFind)
		}
		if charge.Type != models.TransactionTypeCharge || charge.Status != models.TransactionStatusCompleted {
			return apperr.New(apperr.KindInvalidArgument, "only completed charges can be refunded")
		}
		var existing int64
		if errCount := tx.Model(&models.Transaction{}).Where("refund_of_id = ?", chargeID).Count(&existing).Error; errCount != nil {
			return apperr.Wrap(apperr.KindInternal, "query refunds failed", errCount)
		}
		if existing > 0 {
			return apperr.New(apperr.KindInvalidArgument, "charge already refunded")
		}

		refundOf := charge.ID
		row = models.Transaction{
			UserID:       charge.UserID,
			APIKeyID:     charge.APIKeyID,
			Type:         models.TransactionTypeRefund,
			Status:       models.TransactionStatusCompleted,
			Model:        charge.Model,
			InputTokens:  charge.InputTokens,
			OutputTokens: charge.OutputTokens,
			Amount:       charge.Amount,
			RefundOfID:   &refundOf,
			Note:         strings.TrimSpace(note),
		}
		if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
			if db.IsUniqueViolation(errCreate) {
				return apperr.New(apperr.KindInvalidArgument, "charge already refunded")
			}
			return apperr.Wrap(apperr.KindInternal, "record refund failed", errCreate)
		}
		if _, errAdjust := adjustBalance(tx, charge.UserID, charge.Amount); errAdjust != nil {
			return errAdjust
		}
		return nil
	})
	if errTx != nil {
		return models.Transaction{}, errTx
	}
	return row, nil
}

// ListTransactions returns the user's rows, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID uint64, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.Transaction
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; errFind != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list transactions failed", errFind)
	}
	return rows, nil
}

// Reconciliation compares the cached balance with the completed ledger rows.
type Reconciliation struct {
	UserID    uint64 `json:"user_id"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
	Drift     int64  `json:"drift"`
	Pending   int64  `json:"pending"`
	Failed    int64  `json:"failed"`
}

// Reconcile reports drift between the balance column and the ledger.
func (s *Store) Reconcile(ctx context.Context, userID uint64) (Reconciliation, error) {
	conn := s.db.WithContext(ctx)
	balance, errBalance := readBalance(conn, userID)
	if errBalance != nil {
		return Reconciliation{}, errBalance
	}

	type sumRow struct {
		Type   models.TransactionType
		Status models.TransactionStatus
		Total  int64
		Count  int64
	}
	var rows []sumRow
	if errSum := conn.Model(&models.Transaction{}).
		Select("type, status, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("type, status").
		Scan(&rows).Error; errSum != nil {
		return Reconciliation{}, apperr.Wrap(apperr.KindInternal, "sum transactions failed", errSum)
	}

	result := Reconciliation{UserID: userID, Balance: balance}
	for _, row := range rows {
		switch row.Status {
		case models.TransactionStatusCompleted:
			result.LedgerSum += row.Type.Sign() * row.Total
		case models.TransactionStatusPending:
			result.Pending += row.Count
		case models.TransactionStatusFailed:
			result.Failed += row.Count
		}
	}
	result.Drift = result.Balance - result.LedgerSum
	return result, nil
}

func readBalance(conn *gorm.DB, userID uint64) (int64, error) {
	var user models.User
	if errFind := conn.Select("id", "balance").Where("id = ?", userID).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, apperr.New(apperr.KindNotFound, "user not found")
		}
		return 0, apperr.Wrap(apperr.KindInternal, "query balance failed", errFind)
	}
	return user.Balance, nil
}

// adjustBalance is the only writer of users.balance. Debits are guarded by
// the WHERE clause so the check and the write are one statement.
func adjustBalance(tx *gorm.DB, userID uint64, delta int64) (int64, error) {
	if userID == 0 {
		return 0, apperr.New(apperr.KindNotFound, "user not found")
	}
	query := tx.Model(&models.User{}).Where("id = ?", userID)
	updates := map[string]any{"balance": gorm.Expr("balance + ?", delta)}
	if delta < 0 {
		query = query.Where("balance >= ?", -delta)
		updates["total_spent"] = gorm.Expr("total_spent + ?", -delta)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "update balance failed", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, errRead := readBalance(tx, userID); errRead != nil {
			return 0, errRead
		}
		return 0, apperr.New(apperr.KindInsufficientFunds, "insufficient balance")
	}
	return readBalance(tx, userID)
}

func validateTransaction(tx *models.Transaction) error {
	if tx == nil {
		return apperr.New(apperr.KindInvalidArgument, "nil transaction")
	}
	if tx.UserID == 0 {
		return apperr.New(apperr.KindInvalidArgument, "transaction user is required")
	}
	if !tx.Type.Valid() {
		return apperr.New(apperr.KindInvalidArgument, fmt.Sprintf("unknown transaction type %q", tx.Type))
	}
	if tx.Status == "" {
		tx.Status = models.TransactionStatusPending
	}
	if !tx.Status.Valid() {
		return apperr.New(apperr.KindInvalidArgument, fmt.Sprintf("unknown transaction status %q", tx.Status))
	}
	if tx.Amount <= 0 {
		return apperr.New(apperr.KindInvalidArgument, "transaction amount must be positive")
	}
	return nil
}
