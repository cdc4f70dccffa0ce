package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedTx(t *testing.T, conn *gorm.DB, row models.Transaction) {
	t.Helper()
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("seed transaction: %v", errCreate)
	}
}

func TestAggregator(t *testing.T) {
	conn := openTestDB(t)
	user := models.User{OpenID: "u1", Role: models.UserRoleUser, LastSignedInAt: time.Now().UTC()}
	other := models.User{OpenID: "u2", Role: models.UserRoleUser, LastSignedInAt: time.Now().UTC()}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := conn.Create(&other).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	charge := func(userID uint64, model string, in, out, amount int64, at time.Time, status models.TransactionStatus) models.Transaction {
		return models.Transaction{
			UserID: userID, Type: models.TransactionTypeCharge, Status: status, Model: model,
			InputTokens: in, OutputTokens: out, Amount: amount, CreatedAt: at, UpdatedAt: at,
		}
	}
	seedTx(t, conn, charge(user.ID, "a", 100, 200, 10, now.Add(-1*time.Hour), models.TransactionStatusCompleted))
	seedTx(t, conn, charge(user.ID, "b", 1000, 1000, 20, now.Add(-2*time.Hour), models.TransactionStatusCompleted))
	seedTx(t, conn, charge(user.ID, "a", 50, 50, 15, now.Add(-26*time.Hour), models.TransactionStatusCompleted))
	seedTx(t, conn, charge(user.ID, "a", 10, 10, 10, now.Add(-40*24*time.Hour), models.TransactionStatusCompleted))
	// Ignored: failed charge, recharge, other user.
	seedTx(t, conn, charge(user.ID, "a", 999, 999, 99, now.Add(-1*time.Hour), models.TransactionStatusFailed))
	seedTx(t, conn, models.Transaction{UserID: user.ID, Type: models.TransactionTypeRecharge, Status: models.TransactionStatusCompleted, Amount: 5000, CreatedAt: now, UpdatedAt: now})
	seedTx(t, conn, charge(other.ID, "a", 100, 100, 10, now.Add(-1*time.Hour), models.TransactionStatusCompleted))

	agg := NewAggregator(conn)
	agg.now = func() time.Time { return now }
	ctx := context.Background()

	usage, err := agg.Usage(ctx, user.ID, 7)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.TotalTokens != 2400 || usage.TotalCost != 45 || usage.TransactionCount != 3 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	allTime, err := agg.Usage(ctx, user.ID, 0)
	if err != nil {
		t.Fatalf("all-time usage: %v", err)
	}
	if allTime.TransactionCount != 4 || allTime.TotalCost != 55 {
		t.Fatalf("unexpected all-time usage %+v", allTime)
	}

	trend, err := agg.Trend(ctx, user.ID, 7)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(trend) != 2 || trend[0].Date != "2026-03-09" || trend[1].Date != "2026-03-10" {
		t.Fatalf("unexpected trend %+v", trend)
	}
	if trend[1].Tokens != 2300 || trend[1].Cost != 30 {
		t.Fatalf("unexpected latest day %+v", trend[1])
	}
	var trendTokens, trendCost int64
	for _, point := range trend {
		trendTokens += point.Tokens
		trendCost += point.Cost
	}
	if trendTokens != usage.TotalTokens || trendCost != usage.TotalCost {
		t.Fatalf("trend totals %d/%d disagree with usage %+v", trendTokens, trendCost, usage)
	}

	breakdown, err := agg.Breakdown(ctx, user.ID)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if len(breakdown) != 2 || breakdown[0].Model != "a" || breakdown[0].Cost != 35 || breakdown[1].Cost != 20 {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}
	var breakdownCost int64
	for _, item := range breakdown {
		breakdownCost += item.Cost
	}
	if breakdownCost != allTime.TotalCost {
		t.Fatalf("breakdown total %d disagrees with all-time cost %d", breakdownCost, allTime.TotalCost)
	}
}

func TestAggregator_Empty(t *testing.T) {
	agg := NewAggregator(openTestDB(t))
	usage, err := agg.Usage(context.Background(), 42, 30)
	if err != nil || usage != (Usage{}) {
		t.Fatalf("expected zero usage, got %+v (err=%v)", usage, err)
	}
	trend, err := agg.Trend(context.Background(), 42, 30)
	if err != nil || len(trend) != 0 {
		t.Fatalf("expected empty trend, got %+v (err=%v)", trend, err)
	}
	breakdown, err := agg.Breakdown(context.Background(), 42)
	if err != nil || len(breakdown) != 0 {
		t.Fatalf("expected empty breakdown, got %+v (err=%v)", breakdown, err)
	}
}

func TestAggregator_WindowIgnoresStoredOffset(t *testing.T) {
	conn := openTestDB(t)
	user := models.User{OpenID: "tz", Role: models.UserRoleUser, LastSignedInAt: time.Now().UTC()}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	shanghai := time.FixedZone("CST", 8*60*60)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-25 * time.Hour).In(shanghai)
	recent := now.Add(-1 * time.Hour).In(shanghai)
	for _, at := range []time.Time{old, recent} {
		seedTx(t, conn, models.Transaction{
			UserID: user.ID, Type: models.TransactionTypeCharge, Status: models.TransactionStatusCompleted,
			Model: "a", InputTokens: 1, OutputTokens: 1, Amount: 7, CreatedAt: at, UpdatedAt: at,
		})
	}

	var stored models.Transaction
	if err := conn.Where("user_id = ?", user.ID).Order("id").First(&stored).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if _, offset := stored.CreatedAt.Zone(); !stored.CreatedAt.Equal(old) || offset != 0 {
		t.Fatalf("expected %s stored as UTC, got %s", old, stored.CreatedAt)
	}

	agg := NewAggregator(conn)
	agg.now = func() time.Time { return now }
	usage, err := agg.Usage(context.Background(), user.ID, 1)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.TransactionCount != 1 || usage.TotalCost != 7 {
		t.Fatalf("expected only the recent charge in a one-day window, got %+v", usage)
	}
	trend, err := agg.Trend(context.Background(), user.ID, 1)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(trend) != 1 || trend[0].Date != "2026-03-10" || trend[0].Cost != 7 {
		t.Fatalf("unexpected trend %+v", trend)
	}
}
