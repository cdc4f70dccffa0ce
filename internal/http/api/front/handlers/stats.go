package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/stats"
)

// StatsHandler serves the caller's usage statistics.
type StatsHandler struct {
	aggregator *stats.Aggregator
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(aggregator *stats.Aggregator) *StatsHandler {
	return &StatsHandler{aggregator: aggregator}
}

// Usage totals completed charges over ?days= (0 or absent is all time).
func (h *StatsHandler) Usage(c *gin.Context) {
	days, ok := respond.IntQuery(c, "days", 0)
	if !ok {
		return
	}
	usage, errUsage := h.aggregator.Usage(c.Request.Context(), getUserID(c), days)
	if errUsage != nil {
		respond.Error(c, errUsage)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// Trend returns per-day totals over ?days=.
func (h *StatsHandler) Trend(c *gin.Context) {
	days, ok := respond.IntQuery(c, "days", 0)
	if !ok {
		return
	}
	points, errTrend := h.aggregator.Trend(c.Request.Context(), getUserID(c), days)
	if errTrend != nil {
		respond.Error(c, errTrend)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trend": points})
}

// Breakdown returns all-time cost per model.
func (h *StatsHandler) Breakdown(c *gin.Context) {
	rows, errBreakdown := h.aggregator.Breakdown(c.Request.Context(), getUserID(c))
	if errBreakdown != nil {
		respond.Error(c, errBreakdown)
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakdown": rows})
}
