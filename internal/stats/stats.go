// Package stats summarizes a user's billed usage from the ledger.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/models"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// Usage totals completed charges inside a window.
type Usage struct {
	TotalTokens      int64 `json:"total_tokens"`
	TotalCost        int64 `json:"total_cost"`
	TransactionCount int64 `json:"transaction_count"`
}

// TrendPoint is one UTC day with at least one charge.
type TrendPoint struct {
	Date   string `json:"date"`
	Tokens int64  `json:"tokens"`
	Cost   int64  `json:"cost"`
}

// ModelCost is the all-time spend on one model.
type ModelCost struct {
	Model string `json:"model"`
	Cost  int64  `json:"cost"`
}

// Aggregator reads the transactions table.
type Aggregator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAggregator constructs an Aggregator.
func NewAggregator(conn *gorm.DB) *Aggregator {
	return &Aggregator{db: conn, now: time.Now}
}

// charges scopes a query to completed charges of userID, optionally limited
// to the last windowDays days. windowDays <= 0 means all time.
func (a *Aggregator) charges(ctx context.Context, userID uint64, windowDays int) *gorm.DB {
	q := a.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("user_id = ? AND type = ? AND status = ?", userID, models.TransactionTypeCharge, models.TransactionStatusCompleted)
	if windowDays > 0 {
		cutoff := a.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)
		q = q.Where("created_at >= ?", cutoff)
	}
	return q
}

// Usage returns token, cost and count totals over the window.
func (a *Aggregator) Usage(ctx context.Context, userID uint64, windowDays int) (Usage, error) {
	var out Usage
	if errScan := a.charges(ctx, userID, windowDays).
		Select("COALESCE(SUM(input_tokens + output_tokens), 0) AS total_tokens, " +
			"COALESCE(SUM(amount), 0) AS total_cost, COUNT(*) AS transaction_count").
		Scan(&out).Error; errScan != nil {
		return Usage{}, apperr.Wrap(apperr.KindInternal, "aggregate usage failed", errScan)
	}
	return out, nil
}

// Trend returns per-day totals over the window in ascending date order.
// Rows are bucketed in Go so the day boundary is UTC on every dialect.
func (a *Aggregator) Trend(ctx context.Context, userID uint64, windowDays int) ([]TrendPoint, error) {
	var rows []models.Transaction
	if errFind := a.charges(ctx, userID, windowDays).
		Select("id", "input_tokens", "output_tokens", "amount", "created_at").
		Find(&rows).Error; errFind != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load usage trend failed", errFind)
	}

	byDate := make(map[string]*TrendPoint)
	for _, row := range rows {
		date := row.CreatedAt.UTC().Format(dateLayout)
		point, ok := byDate[date]
		if !ok {
			point = &TrendPoint{Date: date}
			byDate[date] = point
		}
		point.Tokens += row.TotalTokens()
		point.Cost += row.Amount
	}

	out := make([]TrendPoint, 0, len(byDate))
	for _, point := range byDate {
		out = append(out, *point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Breakdown returns all-time spend per model, highest cost first.
func (a *Aggregator) Breakdown(ctx context.Context, userID uint64) ([]ModelCost, error) {
	var out []ModelCost
	if errScan := a.charges(ctx, userID, 0).
		Select("model, COALESCE(SUM(amount), 0) AS cost").
		Group("model").
		Scan(&out).Error; errScan != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "aggregate cost breakdown failed", errScan)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Cost == out[j].Cost {
			return out[i].Model < out[j].Model
		}
		return out[i].Cost > out[j].Cost
	})
	if out == nil {
		out = []ModelCost{}
	}
	return out, nil
}
