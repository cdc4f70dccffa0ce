package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultSyncInterval   = 30 * time.Minute
	defaultRequestTimeout = 15 * time.Second
	maxDocumentBytes      = 8 << 20
)

// LoadFile parses the catalog document at path and upserts it without
// deactivating models absent from the file.
func LoadFile(ctx context.Context, store *Store, path string, now time.Time) (int, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("catalog: read seed file: %w", err)
	}
	rows, err := ParseDocument(data)
	if err != nil {
		return 0, err
	}
	if err = store.Upsert(ctx, rows, now, false); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Syncer keeps the catalog in step with a remote document.
type Syncer struct {
	store    *Store
	url      string
	interval time.Duration
	client   *http.Client
	now      func() time.Time
}

// NewSyncer constructs a catalog syncer. It returns nil when url is empty.
func NewSyncer(store *Store, url string, interval time.Duration) *Syncer {
	url = strings.TrimSpace(url)
	if store == nil || url == "" {
		return nil
	}
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Syncer{
		store:    store,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		now:      time.Now,
	}
}

// Start runs the sync loop in the background.
func (s *Syncer) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.Infof("catalog syncer started (interval=%s)", s.interval)
}

func (s *Syncer) run(ctx context.Context) {
	if _, err := s.SyncOnce(ctx); err != nil {
		log.WithError(err).Warn("catalog syncer: initial sync failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				log.WithError(err).Warn("catalog syncer: sync failed")
			}
		}
	}
}

// SyncOnce fetches the remote document and applies it, deactivating models
// the document no longer lists. It returns the number of models applied.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("catalog syncer: not configured")
	}

	requestCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("catalog syncer: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("catalog syncer: request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("catalog syncer: close response body failed")
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("catalog syncer: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return 0, fmt.Errorf("catalog syncer: read response: %w", err)
	}

	rows, err := ParseDocument(body)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("catalog syncer: empty document")
	}
	if err = s.store.Upsert(ctx, rows, s.now(), true); err != nil {
		return 0, err
	}
	return len(rows), nil
}
