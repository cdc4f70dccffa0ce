package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/security"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestUpsert_CreatesThenRefreshes(t *testing.T) {
	store := NewStore(openTestDB(t), "")
	ctx := context.Background()
	first := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	created, err := store.Upsert(ctx, security.Identity{OpenID: "open-1", Name: "Ada", Email: "ada@example.com", LoginMethod: "github"}, first)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.ID == 0 || created.Role != models.UserRoleUser || created.Balance != 0 {
		t.Fatalf("unexpected user %+v", created)
	}

	second := first.Add(30 * time.Minute)
	refreshed, err := store.Upsert(ctx, security.Identity{OpenID: "open-1", Name: "Ada L."}, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if refreshed.ID != created.ID {
		t.Fatalf("expected the same account, got %d and %d", created.ID, refreshed.ID)
	}
	if refreshed.Name != "Ada L." || refreshed.Email != "ada@example.com" || refreshed.LoginMethod != "github" {
		t.Fatalf("expected empty fields to keep previous values, got %+v", refreshed)
	}
	if !refreshed.LastSignedInAt.Equal(second) {
		t.Fatalf("expected last sign-in %s, got %s", second, refreshed.LastSignedInAt)
	}
}

func TestUpsert_PromotesOwner(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	if _, err := NewStore(conn, "").Upsert(ctx, security.Identity{OpenID: "owner"}, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	owner, err := NewStore(conn, "owner").Upsert(ctx, security.Identity{OpenID: "owner"}, time.Now())
	if err != nil {
		t.Fatalf("upsert owner: %v", err)
	}
	if owner.Role != models.UserRoleAdmin {
		t.Fatalf("expected owner to be promoted, got %s", owner.Role)
	}
	if _, err = NewStore(conn, "owner").Upsert(ctx, security.Identity{OpenID: ""}, time.Now()); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty open id, got %v", err)
	}
}

func TestList_SearchAndPaging(t *testing.T) {
	store := NewStore(openTestDB(t), "")
	ctx := context.Background()
	for _, id := range []security.Identity{
		{OpenID: "a", Name: "Alice", Email: "alice@example.com"},
		{OpenID: "b", Name: "Bob", Email: "bob@example.com"},
		{OpenID: "c", Name: "Carol", Email: "carol@corp.test"},
	} {
		if _, err := store.Upsert(ctx, id, time.Now()); err != nil {
			t.Fatalf("upsert %s: %v", id.OpenID, err)
		}
	}

	rows, total, err := store.List(ctx, ListFilter{Search: "EXAMPLE"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 matches, got total=%d rows=%d", total, len(rows))
	}

	rows, total, err = store.List(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if total != 3 || len(rows) != 1 {
		t.Fatalf("expected one row of three, got total=%d rows=%d", total, len(rows))
	}
}

func TestApply(t *testing.T) {
	store := NewStore(openTestDB(t), "")
	ctx := context.Background()
	user, err := store.Upsert(ctx, security.Identity{OpenID: "x"}, time.Now())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	role := models.UserRoleAdmin
	limit := 5
	updated, err := store.Apply(ctx, user.ID, Update{Role: &role, RateLimit: &limit})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.Role != models.UserRoleAdmin || updated.RateLimit != 5 {
		t.Fatalf("unexpected user %+v", updated)
	}
	bad := models.UserRole("root")
	if _, err = store.Apply(ctx, user.ID, Update{Role: &bad}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
	if _, err = store.Apply(ctx, 9999, Update{RateLimit: &limit}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
