package apikeys

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "apikeys.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createUser(t *testing.T, conn *gorm.DB, openID string) models.User {
	t.Helper()
	user := models.User{OpenID: openID, Role: models.UserRoleUser, LastSignedInAt: time.Now().UTC()}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func TestCreateAndAuthenticate(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn, "pepper")
	user := createUser(t, conn, "u1")
	ctx := context.Background()

	created, err := store.Create(ctx, user.ID, "laptop", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Secret == "" || created.Key.Digest == created.Secret || created.Key.Prefix == "" {
		t.Fatalf("unexpected created key %+v", created)
	}

	var stored models.APIKey
	if errFind := conn.Where("id = ?", created.Key.ID).Take(&stored).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if stored.Digest == created.Secret {
		t.Fatalf("expected only the digest to be stored")
	}

	key, err := store.Authenticate(ctx, " "+created.Secret+" ")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if key.ID != created.Key.ID || key.UserID != user.ID {
		t.Fatalf("unexpected key %+v", key)
	}

	if _, err = NewStore(conn, "other-pepper").Authenticate(ctx, created.Secret); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected a different pepper to reject, got %v", err)
	}
	if _, err = store.Authenticate(ctx, "not-a-key"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for malformed key, got %v", err)
	}

	if err = store.SetStatus(ctx, user.ID, key.ID, models.APIKeyStatusInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err = store.Authenticate(ctx, created.Secret); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected inactive key to be rejected, got %v", err)
	}
}

func TestGetAndDelete_Ownership(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn, "pepper")
	owner := createUser(t, conn, "owner")
	other := createUser(t, conn, "other")
	ctx := context.Background()

	created, err := store.Create(ctx, owner.ID, "ci", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	keyID := created.Key.ID
	charge := models.Transaction{UserID: owner.ID, APIKeyID: &keyID, Type: models.TransactionTypeCharge, Status: models.TransactionStatusCompleted, Amount: 10}
	if errCreate := conn.Create(&charge).Error; errCreate != nil {
		t.Fatalf("create charge: %v", errCreate)
	}

	if _, err = store.Get(ctx, other.ID, keyID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err = store.Delete(ctx, other.ID, keyID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err = store.Delete(ctx, owner.ID, keyID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err = store.Get(ctx, owner.ID, keyID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	var reloaded models.Transaction
	if errFind := conn.Where("id = ?", charge.ID).Take(&reloaded).Error; errFind != nil {
		t.Fatalf("reload charge: %v", errFind)
	}
	if reloaded.APIKeyID != nil || reloaded.Amount != 10 {
		t.Fatalf("expected charge to survive with the key cleared, got %+v", reloaded)
	}
}

func TestRecordUsage(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn, "pepper")
	user := createUser(t, conn, "u1")
	ctx := context.Background()

	quota := int64(25)
	created, err := store.Create(ctx, user.ID, "limited", &quota)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if errRecord := store.RecordUsage(ctx, created.Key.ID, 600, 10); errRecord != nil {
			t.Fatalf("record usage: %v", errRecord)
		}
	}
	key, err := store.Get(ctx, user.ID, created.Key.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if key.CallCount != 3 || key.TokensUsed != 1800 || key.SpentAmount != 30 || key.LastUsedAt == nil {
		t.Fatalf("unexpected counters %+v", key)
	}
	if key.RemainingQuota == nil || *key.RemainingQuota != 0 {
		t.Fatalf("expected quota to floor at zero, got %v", key.RemainingQuota)
	}
	if _, err = store.Authenticate(ctx, created.Secret); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected exhausted key to be rejected, got %v", err)
	}

	unlimited, _ := store.Create(ctx, user.ID, "open", nil)
	if err = store.RecordUsage(ctx, unlimited.Key.ID, 10, 10); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	key, _ = store.Get(ctx, user.ID, unlimited.Key.ID)
	if key.RemainingQuota != nil {
		t.Fatalf("expected unlimited key to stay unlimited, got %d", *key.RemainingQuota)
	}
	if err = store.RecordUsage(ctx, 9999, 1, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
