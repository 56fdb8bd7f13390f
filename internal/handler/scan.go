package handler

import (
	"math"
	"net/http"
	"strings"

	"goldenscan/internal/backtest"
	"goldenscan/internal/domain"
	"goldenscan/internal/signal"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// resultView is the wire shape of a backtest result. Stored values stay
// unrounded; rounding happens here, at the edge.
type resultView struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	AvgProfit      float64 `json:"avg_profit"`
	AvgProfitRatio float64 `json:"avg_profit_ratio"`
	WinProbability float64 `json:"win_probability"`
	TradeCount     int     `json:"trade_count"`
	LastCrossDate  string  `json:"last_cross_date,omitempty"`
}

func viewOf(r domain.BacktestResult) resultView {
	v := resultView{
		Code:           r.Code,
		Name:           r.Name,
		AvgProfit:      roundTo(r.AvgProfit, 2),
		AvgProfitRatio: roundTo(r.AvgProfitRatio, 4),
		WinProbability: roundTo(r.WinProbability, 4),
		TradeCount:     r.TradeCount,
	}
	if !r.LastCrossDate.IsZero() {
		v.LastCrossDate = r.LastCrossDate.Format(dateLayout)
	}
	return v
}

func viewsOf(results []domain.BacktestResult) []resultView {
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		views = append(views, viewOf(r))
	}
	return views
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

func scanKindParam(c *gin.Context) (signal.Kind, bool) {
	kind := signal.Kind(strings.ToLower(strings.TrimSpace(c.Param("kind"))))
	if !kind.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be sma or macd"})
		return "", false
	}
	return kind, true
}

// RunScan triggers a full-universe scan for one indicator kind and returns
// the qualifying results.
func (h *Handler) RunScan(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-scan")
	defer span.End()

	kind, ok := scanKindParam(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("kind", string(kind)))

	results, err := h.scanner.Scan(ctx, kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "results": viewsOf(results), "count": len(results)})
}

// GetLatestScan serves the cached results of the most recent scan.
func (h *Handler) GetLatestScan(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-scan")
	defer span.End()

	kind, ok := scanKindParam(c)
	if !ok {
		return
	}

	results, err := h.scanner.Latest(ctx, kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "results": viewsOf(results), "count": len(results)})
}

type backtestRequest struct {
	Code        string `json:"code"`
	ShortWindow int    `json:"short_window"`
	LongWindow  int    `json:"long_window"`
	HoldDays    int    `json:"hold_days"`
}

// RunBacktest simulates one instrument with caller-chosen windows.
func (h *Handler) RunBacktest(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-backtest")
	defer span.End()

	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	span.SetAttributes(attribute.String("code", req.Code))

	params := backtest.Params{
		ShortWindow: req.ShortWindow,
		LongWindow:  req.LongWindow,
		HoldDays:    req.HoldDays,
	}
	result, err := h.scanner.Backtest(ctx, req.Code, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(result))
}

// RefreshMembership reloads index constituents from the provider.
func (h *Handler) RefreshMembership(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "acquisition service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.refresh-membership")
	defer span.End()

	if err := h.refresher.FetchAllIndexMembership(ctx); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "membership refreshed"})
}

type refreshDailyRequest struct {
	Days int `json:"days"`
}

// RefreshDaily pulls daily bars for the whole universe. An optional body
// overrides the trailing window; zero means the full backfill default.
func (h *Handler) RefreshDaily(c *gin.Context) {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "acquisition service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.refresh-daily")
	defer span.End()

	var req refreshDailyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Days < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must not be negative"})
		return
	}

	fetched, err := h.refresher.FetchAllDaily(ctx, req.Days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "daily bars refreshed", "instruments": fetched})
}

// GetRefreshJob reports the scheduler's view of the nightly refresh.
func (h *Handler) GetRefreshJob(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler unavailable"})
		return
	}

	_, span := h.tracer.Start(c.Request.Context(), "handler.get-refresh-job")
	defer span.End()

	rec := h.jobs.Record()
	resp := gin.H{
		"status":      rec.Status,
		"next_run_at": rec.NextRunAt,
	}
	if !rec.LastRunAt.IsZero() {
		resp["last_run_at"] = rec.LastRunAt
	}
	if rec.LastError != "" {
		resp["last_error"] = rec.LastError
	}
	c.JSON(http.StatusOK, resp)
}
