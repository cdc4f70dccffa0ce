package settings

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPollInterval = 10 * time.Second

// Watcher keeps the settings snapshot in sync with the database.
type Watcher struct {
	db       *gorm.DB
	interval time.Duration
}

// NewWatcher constructs a settings Watcher.
func NewWatcher(db *gorm.DB, interval time.Duration) *Watcher {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{db: db, interval: interval}
}

// Start polls until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	if w == nil {
		return
	}
	go w.run(ctx)
	log.Infof("settings watcher started (interval=%s)", w.interval)
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errLoad := Load(ctx, w.db); errLoad != nil {
				log.WithError(errLoad).Warn("settings watcher: reload failed")
			}
		}
	}
}
