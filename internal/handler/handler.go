package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"goldenscan/internal/backtest"
	"goldenscan/internal/domain"
	"goldenscan/internal/job"
	"goldenscan/internal/provider"
	"goldenscan/internal/signal"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type InstrumentReader interface {
	ListInstruments(ctx context.Context, index domain.IndexTag) ([]domain.Instrument, error)
}

type BarReader interface {
	GetBarsInRange(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error)
}

type Scanner interface {
	Scan(ctx context.Context, kind signal.Kind) ([]domain.BacktestResult, error)
	Latest(ctx context.Context, kind signal.Kind) ([]domain.BacktestResult, error)
	Backtest(ctx context.Context, code string, params backtest.Params) (domain.BacktestResult, error)
}

type Refresher interface {
	FetchAllIndexMembership(ctx context.Context) error
	FetchAllDaily(ctx context.Context, days int) (int, error)
}

type JobReporter interface {
	Record() job.JobRecord
}

type Handler struct {
	tracer      trace.Tracer
	instruments InstrumentReader
	bars        BarReader
	scanner     Scanner
	refresher   Refresher
	jobs        JobReporter
}

func New(
	tracer trace.Tracer,
	instruments InstrumentReader,
	bars BarReader,
	scanner Scanner,
	refresher Refresher,
	jobs JobReporter,
) *Handler {
	return &Handler{
		tracer:      tracer,
		instruments: instruments,
		bars:        bars,
		scanner:     scanner,
		refresher:   refresher,
		jobs:        jobs,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/instruments/:index", h.GetInstruments)
	r.GET("/api/bars/:code", h.GetBars)
	r.POST("/api/refresh/membership", h.RefreshMembership)
	r.POST("/api/refresh/daily", h.RefreshDaily)
	r.POST("/api/scan/:kind", h.RunScan)
	r.GET("/api/scan/:kind/latest", h.GetLatestScan)
	r.POST("/api/backtest", h.RunBacktest)
	r.GET("/api/jobs/refresh", h.GetRefreshJob)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps domain errors onto HTTP status codes: bad parameters are
// the caller's fault, thin data is unprocessable, gateway trouble is a bad
// upstream, everything else is internal.
func writeError(c *gin.Context, err error) {
	var perr *domain.ParameterError
	if errors.As(err, &perr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
		return
	}
	var ierr *domain.InsufficientDataError
	if errors.As(err, &ierr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ierr.Error()})
		return
	}
	var gerr *provider.GatewayError
	if errors.As(err, &gerr) || errors.Is(err, provider.ErrSessionClosed) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
