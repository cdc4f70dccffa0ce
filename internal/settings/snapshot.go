package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
)

var (
	snapshotMu sync.RWMutex
	snapshot   = map[string]json.RawMessage{}
)

// DBConfigValue returns the cached raw JSON value for key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	snapshotMu.RLock()
	defer snapshotMu.RUnlock()
	raw, ok := snapshot[key]
	if !ok || len(raw) == 0 {
		return nil, false
	}
	return raw, true
}

// StoreDBConfig replaces the cached settings snapshot.
func StoreDBConfig(values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		next[key] = append(json.RawMessage(nil), value...)
	}
	snapshotMu.Lock()
	snapshot = next
	snapshotMu.Unlock()
}

// Load reads the settings table into the snapshot.
func Load(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var rows []models.Setting
	if errFind := db.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings: load: %w", errFind)
	}
	values := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		values[row.Key] = json.RawMessage(row.Value)
	}
	StoreDBConfig(values)
	return nil
}
