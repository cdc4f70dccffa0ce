package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var upsertColumns = []string{
	"model_type",
	"input_token_price",
	"output_token_price",
	"image_price",
	"status",
	"description",
	"extra",
	"last_synced_at",
	"updated_at",
}

// Store reads and writes catalog rows.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a catalog Store.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// Upsert writes rows keyed by model name. With prune set, active models not
// present in rows are marked inactive.
func (s *Store) Upsert(ctx context.Context, rows []models.Model, syncTime time.Time, prune bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("catalog: upsert: nil db")
	}
	if syncTime.IsZero() {
		syncTime = time.Now()
	}
	syncTime = syncTime.UTC()
	if len(rows) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			rows[i].ID = 0
			rows[i].LastSyncedAt = syncTime
			rows[i].UpdatedAt = syncTime
			if rows[i].Status == "" {
				rows[i].Status = models.ModelStatusActive
			}
			if rows[i].ModelType == "" {
				rows[i].ModelType = models.ModelTypeChat
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_name"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("catalog: upsert: %w", err)
		}
		if !prune {
			return nil
		}
		if err := tx.Model(&models.Model{}).
			Where("last_synced_at < ? AND status = ?", syncTime, models.ModelStatusActive).
			Updates(map[string]any{"status": models.ModelStatusInactive, "updated_at": syncTime}).Error; err != nil {
			return fmt.Errorf("catalog: deactivate stale models: %w", err)
		}
		return nil
	})
}

// List returns catalog rows ordered by name.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]models.Model, error) {
	q := s.db.WithContext(ctx).Model(&models.Model{})
	if activeOnly {
		q = q.Where("status = ?", models.ModelStatusActive)
	}
	var rows []models.Model
	if err := q.Order("model_name ASC").Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list models failed", err)
	}
	return rows, nil
}

// Lookup returns the model named name, active or not.
func (s *Store) Lookup(ctx context.Context, name string) (*models.Model, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "model name is required")
	}
	var row models.Model
	if err := s.db.WithContext(ctx).Where("model_name = ?", name).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("model %q not found", name))
		}
		return nil, apperr.Wrap(apperr.KindInternal, "query model failed", err)
	}
	return &row, nil
}
