package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createUser(t *testing.T, conn *gorm.DB, openID string, balance int64) models.User {
	t.Helper()
	user := models.User{OpenID: openID, Role: models.UserRoleUser, Balance: balance, LastSignedInAt: time.Now().UTC()}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func TestAppendTransaction_ReturnsID(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 0)

	first, err := store.AppendTransaction(context.Background(), &models.Transaction{UserID: user.ID, Type: models.TransactionTypeCharge, Amount: 10})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := store.AppendTransaction(context.Background(), &models.Transaction{UserID: user.ID, Type: models.TransactionTypeCharge, Amount: 20})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first == 0 || second == 0 || first == second {
		t.Fatalf("expected distinct generated ids, got %d and %d", first, second)
	}

	var row models.Transaction
	if errFind := conn.Where("id = ?", second).Take(&row).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if row.Amount != 20 || row.Status != models.TransactionStatusPending {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestAppendTransaction_Validates(t *testing.T) {
	store := NewStore(openTestDB(t))
	cases := []*models.Transaction{
		nil,
		{UserID: 0, Type: models.TransactionTypeCharge, Amount: 1},
		{UserID: 1, Type: "bonus", Amount: 1},
		{UserID: 1, Type: models.TransactionTypeCharge, Amount: 0},
		{UserID: 1, Type: models.TransactionTypeCharge, Status: "settled", Amount: 1},
	}
	for i, tc := range cases {
		if _, err := store.AppendTransaction(context.Background(), tc); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("case %d: expected invalid argument, got %v", i, err)
		}
	}
}

func TestAdjustBalance_GuardsNegative(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 100)
	ctx := context.Background()

	balance, err := store.AdjustBalance(ctx, user.ID, -60)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 40 {
		t.Fatalf("expected balance 40, got %d", balance)
	}
	if _, err = store.AdjustBalance(ctx, user.ID, -41); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	balance, err = store.GetBalance(ctx, user.ID)
	if err != nil || balance != 40 {
		t.Fatalf("expected untouched balance 40, got %d (%v)", balance, err)
	}
	if balance, err = store.AdjustBalance(ctx, user.ID, 15); err != nil || balance != 55 {
		t.Fatalf("expected credit to 55, got %d (%v)", balance, err)
	}

	var reloaded models.User
	if errFind := conn.Where("id = ?", user.ID).Take(&reloaded).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if reloaded.TotalSpent != 60 {
		t.Fatalf("expected total_spent 60, got %d", reloaded.TotalSpent)
	}
}

func TestAdjustBalance_UnknownUser(t *testing.T) {
	store := NewStore(openTestDB(t))
	if _, err := store.AdjustBalance(context.Background(), 999, -1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.GetBalance(context.Background(), 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjustBalance_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 95)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AdjustBalance(context.Background(), user.ID, -10)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 9 || rejected != workers-9 {
		t.Fatalf("expected 9 successes and %d rejections, got %d/%d", workers-9, succeeded, rejected)
	}
	balance, err := store.GetBalance(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected balance 5, got %d", balance)
	}
}

func TestDebit_SettlesPendingTransaction(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 50)
	ctx := context.Background()

	txID, err := store.AppendTransaction(ctx, &models.Transaction{UserID: user.ID, Type: models.TransactionTypeCharge, Amount: 30})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	balance, err := store.Debit(ctx, user.ID, txID, 30)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if balance != 20 {
		t.Fatalf("expected 20, got %d", balance)
	}

	var row models.Transaction
	if errFind := conn.Where("id = ?", txID).Take(&row).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if row.Status != models.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", row.Status)
	}

	// Settling twice must not debit twice.
	if _, err = store.Debit(ctx, user.ID, txID, 10); err == nil {
		t.Fatalf("expected second settlement to fail")
	}
	if balance, _ = store.GetBalance(ctx, user.ID); balance != 20 {
		t.Fatalf("expected rollback to keep balance 20, got %d", balance)
	}
}

func TestDebit_InsufficientLeavesPending(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 5)
	ctx := context.Background()

	txID, _ := store.AppendTransaction(ctx, &models.Transaction{UserID: user.ID, Type: models.TransactionTypeCharge, Amount: 10})
	if _, err := store.Debit(ctx, user.ID, txID, 10); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := store.MarkFailed(ctx, txID, "insufficient balance"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var row models.Transaction
	if errFind := conn.Where("id = ?", txID).Take(&row).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if row.Status != models.TransactionStatusFailed || row.Note != "insufficient balance" {
		t.Fatalf("unexpected row %+v", row)
	}
	if err := store.MarkFailed(ctx, txID, "again"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for non-pending row, got %v", err)
	}
}

func TestRechargeAndRefund(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 0)
	ctx := context.Background()

	if _, err := store.Recharge(ctx, user.ID, 500, "top up"); err != nil {
		t.Fatalf("recharge: %v", err)
	}
	txID, _ := store.AppendTransaction(ctx, &models.Transaction{UserID: user.ID, Type: models.TransactionTypeCharge, Amount: 40, Model: "m"})
	if _, err := store.Debit(ctx, user.ID, txID, 40); err != nil {
		t.Fatalf("debit: %v", err)
	}

	refund, err := store.Refund(ctx, txID, "bad answer")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Type != models.TransactionTypeRefund || refund.Amount != 40 || refund.RefundOfID == nil || *refund.RefundOfID != txID {
		t.Fatalf("unexpected refund %+v", refund)
	}
	if _, err = store.Refund(ctx, txID, "again"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected duplicate refund to be rejected, got %v", err)
	}
	if _, err = store.Refund(ctx, refund.ID, "refund of refund"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected refund of a refund to be rejected, got %v", err)
	}

	rec, err := store.Reconcile(ctx, user.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Balance != 500 || rec.LedgerSum != 500 || rec.Drift != 0 {
		t.Fatalf("unexpected reconciliation %+v", rec)
	}
}

func TestListTransactions_NewestFirstWithPaging(t *testing.T) {
	conn := openTestDB(t)
	store := NewStore(conn)
	user := createUser(t, conn, "u1", 0)
	other := createUser(t, conn, "u2", 0)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := store.AppendTransaction(ctx, &models.Transaction{UserID: user.ID, Type: models.TransactionTypeRecharge, Amount: int64(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := store.AppendTransaction(ctx, &models.Transaction{UserID: other.ID, Type: models.TransactionTypeRecharge, Amount: 99}); err != nil {
		t.Fatalf("append: %v", err)
	}

	page, err := store.ListTransactions(ctx, user.ID, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Amount != 4 || page[1].Amount != 3 {
		t.Fatalf("unexpected page %+v", page)
	}
	all, _ := store.ListTransactions(ctx, user.ID, 0, 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 rows for user, got %d", len(all))
	}
}
