package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"goldenscan/internal/backtest"
	"goldenscan/internal/domain"
	"goldenscan/internal/signal"

	"go.opentelemetry.io/otel/trace"
)

const (
	scanLookbackDays = 365
	scanHoldDays     = 21

	// Crosses older than this many trading rows no longer qualify.
	smaLookbackRows  = 3
	macdLookbackRows = 7

	// Screening thresholds applied to backtest aggregates.
	minAvgProfitRatio = 0.02
	minWinProbability = 0.5

	// Series shorter than this are rejected outright for on-demand runs.
	minBacktestRows = 10

	scanCacheTTL = 26 * time.Hour
)

type ScanBarStore interface {
	GetBarsInRange(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error)
}

type ScanInstrumentStore interface {
	ListInstruments(ctx context.Context, index domain.IndexTag) ([]domain.Instrument, error)
	GetName(ctx context.Context, code string) (string, error)
}

type ResultCache interface {
	SetResults(ctx context.Context, kind string, results []domain.BacktestResult, ttl time.Duration) error
	GetResults(ctx context.Context, kind string) ([]domain.BacktestResult, error)
}

type ResultNotifier interface {
	NotifyResults(ctx context.Context, title string, results []domain.BacktestResult) error
}

// ScanService screens the stored universe for fresh golden crosses and
// backtests the survivors. Results that clear the profit and win-rate
// thresholds are cached and pushed to the notifier.
type ScanService struct {
	tracer      trace.Tracer
	bars        ScanBarStore
	instruments ScanInstrumentStore
	engine      *signal.Engine
	cache       ResultCache
	notifier    ResultNotifier
}

func NewScanService(
	tracer trace.Tracer,
	bars ScanBarStore,
	instruments ScanInstrumentStore,
	engine *signal.Engine,
	cache ResultCache,
	notifier ResultNotifier,
) *ScanService {
	return &ScanService{
		tracer:      tracer,
		bars:        bars,
		instruments: instruments,
		engine:      engine,
		cache:       cache,
		notifier:    notifier,
	}
}

// SetNotifier attaches the alert sink. The bot needs the scan service for
// its commands, so the dispatcher arrives after construction.
func (s *ScanService) SetNotifier(notifier ResultNotifier) {
	s.notifier = notifier
}

// Scan screens every supported index for instruments whose most recent
// golden cross falls inside the indicator's qualification window, then
// keeps those whose 21-day-hold backtest clears the thresholds.
func (s *ScanService) Scan(ctx context.Context, kind signal.Kind) ([]domain.BacktestResult, error) {
	ctx, span := s.tracer.Start(ctx, "scan-service.scan")
	defer span.End()

	if !kind.IsValid() {
		return nil, &domain.ParameterError{Name: "kind", Reason: fmt.Sprintf("unsupported scan kind %q", kind)}
	}

	lookbackRows := smaLookbackRows
	if kind == signal.KindMACD {
		lookbackRows = macdLookbackRows
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -scanLookbackDays)

	var results []domain.BacktestResult
	for _, index := range domain.SupportedIndexes {
		instruments, err := s.instruments.ListInstruments(ctx, index)
		if err != nil {
			return nil, fmt.Errorf("list %s instruments: %w", index, err)
		}
		for _, inst := range instruments {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// The MACD screen follows the original main-board-only universe.
			if kind == signal.KindMACD && !domain.IsMainBoard(inst.Code) {
				continue
			}
			res, ok, err := s.evaluate(ctx, inst, kind, lookbackRows, start, end)
			if err != nil {
				log.Printf("scan: skipping %s: %v", inst.Code, err)
				continue
			}
			if ok {
				results = append(results, res)
			}
		}
	}

	if s.cache != nil {
		if err := s.cache.SetResults(ctx, string(kind), results, scanCacheTTL); err != nil {
			log.Printf("scan: cache write for %s failed: %v", kind, err)
		}
	}
	if s.notifier != nil && len(results) > 0 {
		title := fmt.Sprintf("%s golden cross scan", kind)
		if err := s.notifier.NotifyResults(ctx, title, results); err != nil {
			log.Printf("scan: notify for %s failed: %v", kind, err)
		}
	}
	return results, nil
}

// Latest returns the cached results of the most recent scan for kind.
// A cache miss yields an empty slice, not an error.
func (s *ScanService) Latest(ctx context.Context, kind signal.Kind) ([]domain.BacktestResult, error) {
	_, span := s.tracer.Start(ctx, "scan-service.latest")
	defer span.End()

	if !kind.IsValid() {
		return nil, &domain.ParameterError{Name: "kind", Reason: fmt.Sprintf("unsupported scan kind %q", kind)}
	}
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.GetResults(ctx, string(kind))
}

// Backtest runs an on-demand SMA crossover simulation for one instrument
// with caller-chosen windows. Parameters are validated before any I/O.
func (s *ScanService) Backtest(ctx context.Context, code string, params backtest.Params) (domain.BacktestResult, error) {
	ctx, span := s.tracer.Start(ctx, "scan-service.backtest")
	defer span.End()

	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return domain.BacktestResult{}, err
	}
	if code == "" {
		return domain.BacktestResult{}, &domain.ParameterError{Name: "code", Reason: "must not be empty"}
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -scanLookbackDays)
	bars, err := s.bars.GetBarsInRange(ctx, code, start, end)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("load bars for %s: %w", code, err)
	}

	required := minBacktestRows
	if params.LongWindow+1 > required {
		required = params.LongWindow + 1
	}
	if len(bars) < required {
		return domain.BacktestResult{}, &domain.InsufficientDataError{Required: required, Actual: len(bars)}
	}

	closes := signal.Closes(bars)
	idxs := signal.SMACrossIndexes(closes, params.ShortWindow, params.LongWindow)
	entries := make([]time.Time, 0, len(idxs))
	for _, i := range idxs {
		entries = append(entries, bars[i].Date)
	}

	res, err := backtest.Run(bars, entries, params.HoldDays)
	if err != nil {
		if errors.Is(err, backtest.ErrNoTrades) {
			return domain.BacktestResult{}, &domain.InsufficientDataError{Required: 1, Actual: 0}
		}
		return domain.BacktestResult{}, err
	}

	name, err := s.instruments.GetName(ctx, code)
	if err != nil {
		log.Printf("backtest: name lookup for %s failed: %v", code, err)
	}

	out := domain.BacktestResult{
		Code:           code,
		Name:           name,
		AvgProfit:      res.AvgProfit,
		AvgProfitRatio: res.AvgProfitRatio,
		WinProbability: res.WinProbability,
		TradeCount:     res.TradeCount,
	}
	if len(entries) > 0 {
		out.LastCrossDate = entries[len(entries)-1]
	}
	return out, nil
}

// evaluate backtests one instrument and reports whether it qualifies.
func (s *ScanService) evaluate(
	ctx context.Context,
	inst domain.Instrument,
	kind signal.Kind,
	lookbackRows int,
	start, end time.Time,
) (domain.BacktestResult, bool, error) {
	bars, err := s.bars.GetBarsInRange(ctx, inst.Code, start, end)
	if err != nil {
		return domain.BacktestResult{}, false, err
	}
	if len(bars) < s.engine.MinRows(kind) {
		return domain.BacktestResult{}, false, nil
	}

	crossDate, ok := s.engine.RecentCross(bars, kind, lookbackRows)
	if !ok {
		return domain.BacktestResult{}, false, nil
	}

	entries := s.engine.CrossDates(bars, kind)
	res, err := backtest.Run(bars, entries, scanHoldDays)
	if err != nil {
		if errors.Is(err, backtest.ErrNoTrades) {
			return domain.BacktestResult{}, false, nil
		}
		return domain.BacktestResult{}, false, err
	}
	if res.AvgProfitRatio < minAvgProfitRatio || res.WinProbability < minWinProbability {
		return domain.BacktestResult{}, false, nil
	}

	return domain.BacktestResult{
		Code:           inst.Code,
		Name:           inst.Name,
		AvgProfit:      res.AvgProfit,
		AvgProfitRatio: res.AvgProfitRatio,
		WinProbability: res.WinProbability,
		TradeCount:     res.TradeCount,
		LastCrossDate:  crossDate,
	}, true, nil
}
