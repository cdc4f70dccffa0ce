// Package apikeys issues and authenticates user API keys. Secrets are shown
// once at creation; only a keyed digest is stored.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/security"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const createAttempts = 3

// Store manages API keys.
type Store struct {
	db     *gorm.DB
	pepper []byte
}

// NewStore constructs an API key Store. pepper keys the stored digests.
func NewStore(conn *gorm.DB, pepper string) *Store {
	return &Store{db: conn, pepper: []byte(pepper)}
}

// Created is returned once, right after a key is issued.
type Created struct {
	Key    models.APIKey
	Secret string
}

// Create issues a key named name for userID. quota, when set, caps the
// total spend billed through the key.
func (s *Store) Create(ctx context.Context, userID uint64, name string, quota *int64) (Created, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Created{}, apperr.New(apperr.KindInvalidArgument, "missing name")
	}
	if quota != nil && *quota < 0 {
		return Created{}, apperr.New(apperr.KindInvalidArgument, "quota must be non-negative")
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		secret, display, errGenerate := security.GenerateAPIKey()
		if errGenerate != nil {
			return Created{}, apperr.Wrap(apperr.KindInternal, "generate api key failed", errGenerate)
		}
		digest, errDigest := security.DigestAPIKey(s.pepper, secret)
		if errDigest != nil {
			return Created{}, apperr.Wrap(apperr.KindInternal, "generate api key failed", errDigest)
		}
		row := models.APIKey{
			UserID:         userID,
			Name:           name,
			Prefix:         display,
			Digest:         digest,
			Status:         models.APIKeyStatusActive,
			RemainingQuota: quota,
		}
		errCreate := s.db.WithContext(ctx).Create(&row).Error
		if errCreate == nil {
			return Created{Key: row, Secret: secret}, nil
		}
		if !db.IsUniqueViolation(errCreate) {
			return Created{}, apperr.Wrap(apperr.KindInternal, "create api key failed", errCreate)
		}
		lastErr = errCreate
	}
	return Created{}, apperr.Wrap(apperr.KindInternal, "create api key failed", lastErr)
}

// List returns the user's keys, newest first.
func (s *Store) List(ctx context.Context, userID uint64) ([]models.APIKey, error) {
	var rows []models.APIKey
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error; errFind != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list api keys failed", errFind)
	}
	return rows, nil
}

// Get returns a key owned by userID. Keys of other users are Forbidden.
func (s *Store) Get(ctx context.Context, userID, keyID uint64) (*models.APIKey, error) {
	var row models.APIKey
	if errFind := s.db.WithContext(ctx).Where("id = ?", keyID).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "api key not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "query api key failed", errFind)
	}
	if row.UserID != userID {
		return nil, apperr.New(apperr.KindForbidden, "api key belongs to another user")
	}
	return &row, nil
}

// Delete removes a key owned by userID. Ledger rows keep their history with
// the key reference cleared.
func (s *Store) Delete(ctx context.Context, userID, keyID uint64) error {
	if _, errGet := s.Get(ctx, userID, keyID); errGet != nil {
		return errGet
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDetach := tx.Model(&models.Transaction{}).
			Where("api_key_id = ?", keyID).
			Update("api_key_id", nil).Error; errDetach != nil {
			return apperr.Wrap(apperr.KindInternal, "detach transactions failed", errDetach)
		}
		res := tx.Where("id = ? AND user_id = ?", keyID, userID).Delete(&models.APIKey{})
		if res.Error != nil {
			return apperr.Wrap(apperr.KindInternal, "delete api key failed", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.KindNotFound, "api key not found")
		}
		return nil
	})
}

// Authenticate resolves a presented secret to an active key. Unknown,
// inactive and exhausted keys are all rejected with Forbidden.
func (s *Store) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	secret = strings.TrimSpace(secret)
	if !security.LooksLikeAPIKey(secret) {
		return nil, apperr.New(apperr.KindForbidden, "invalid api key")
	}
	digest, errDigest := security.DigestAPIKey(s.pepper, secret)
	if errDigest != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "digest api key failed", errDigest)
	}
	var row models.APIKey
	if errFind := s.db.WithContext(ctx).
		Where("digest = ? AND status = ?", digest, models.APIKeyStatusActive).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindForbidden, "invalid api key")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "query api key failed", errFind)
	}
	if row.RemainingQuota != nil && *row.RemainingQuota <= 0 {
		return nil, apperr.New(apperr.KindForbidden, "api key quota exhausted")
	}
	return &row, nil
}

// RecordUsage advances the key counters after a billed call.
func (s *Store) RecordUsage(ctx context.Context, keyID uint64, tokens, cost int64) error {
	if tokens < 0 {
		tokens = 0
	}
	if cost < 0 {
		cost = 0
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", keyID).
		Updates(map[string]any{
			"call_count":   gorm.Expr("call_count + 1"),
			"tokens_used":  gorm.Expr("tokens_used + ?", tokens),
			"spent_amount": gorm.Expr("spent_amount + ?", cost),
			"remaining_quota": gorm.Expr(
				fmt.Sprintf("CASE WHEN remaining_quota IS NULL THEN NULL ELSE %s END",
					db.GreatestExpr(s.db, "remaining_quota - ?", "0")),
				cost,
			),
			"last_used_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("apikeys: record usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "api key not found")
	}
	return nil
}

// SetStatus activates or deactivates a key owned by userID.
func (s *Store) SetStatus(ctx context.Context, userID, keyID uint64, status models.APIKeyStatus) error {
	if !status.Valid() {
		return apperr.New(apperr.KindInvalidArgument, "invalid status")
	}
	if _, errGet := s.Get(ctx, userID, keyID); errGet != nil {
		return errGet
	}
	if errUpdate := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", keyID).
		Omit(clause.Associations).
		Update("status", status).Error; errUpdate != nil {
		return apperr.Wrap(apperr.KindInternal, "update api key failed", errUpdate)
	}
	return nil
}
