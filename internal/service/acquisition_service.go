package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"goldenscan/internal/domain"
	"goldenscan/internal/retry"

	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBackfillDays      = 365
	DefaultRefreshWindowDays = 30
	defaultBatchSlots        = 2

	progressLogEvery = 10
)

// MarketSession is a logged-in provider session. All queries run inside one
// session; Logout releases it.
type MarketSession interface {
	QueryDailyBars(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error)
	QueryIndexMembers(ctx context.Context, index domain.IndexTag) ([]domain.Instrument, error)
	Logout(ctx context.Context) error
}

// MarketGateway opens provider sessions.
type MarketGateway interface {
	Login(ctx context.Context) (MarketSession, error)
}

type BarStore interface {
	UpsertBars(ctx context.Context, code string, bars []domain.Bar) error
	LastBarDate(ctx context.Context, code string) (time.Time, bool, error)
}

type InstrumentStore interface {
	ReplaceIndexMembers(ctx context.Context, index domain.IndexTag, instruments []domain.Instrument) error
	AllCodes(ctx context.Context) ([]string, error)
}

// FetchOutcome reports how one instrument fared in a batch fetch: the
// number of bars stored, or the error that exhausted its retries.
type FetchOutcome struct {
	Bars int
	Err  error
}

// AcquisitionService pulls daily bars and index membership from the market
// gateway and persists them. Each batch runs inside a single provider
// session; per-instrument fetches are retried, and instruments that exhaust
// their retries are recorded and skipped rather than failing the batch.
type AcquisitionService struct {
	tracer      trace.Tracer
	gateway     MarketGateway
	bars        BarStore
	instruments InstrumentStore

	maxAttempts   int
	baseDelay     time.Duration
	refreshWindow int

	// slots bounds concurrent provider batches so on-demand refreshes
	// cannot pile up behind the scheduler.
	slots chan struct{}
}

func NewAcquisitionService(
	tracer trace.Tracer,
	gateway MarketGateway,
	bars BarStore,
	instruments InstrumentStore,
) *AcquisitionService {
	return &AcquisitionService{
		tracer:        tracer,
		gateway:       gateway,
		bars:          bars,
		instruments:   instruments,
		maxAttempts:   retry.DefaultMaxAttempts,
		baseDelay:     retry.DefaultBaseDelay,
		refreshWindow: DefaultRefreshWindowDays,
		slots:         make(chan struct{}, defaultBatchSlots),
	}
}

// SetRefreshWindow overrides the trailing window used by RefreshRecent.
func (s *AcquisitionService) SetRefreshWindow(days int) {
	if days > 0 {
		s.refreshWindow = days
	}
}

// SetRetryPolicy overrides the per-instrument retry settings.
func (s *AcquisitionService) SetRetryPolicy(maxAttempts int, baseDelay time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		s.baseDelay = baseDelay
	}
}

// FetchUniverse fetches daily bars for an explicit list of codes over
// [start, end] inside one provider session, then flushes the collected
// series to the store in one pass after the session closes. The returned
// map carries a per-code outcome so callers can tell stored instruments
// from skipped ones.
func (s *AcquisitionService) FetchUniverse(ctx context.Context, codes []string, start, end time.Time) (map[string]FetchOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "acquisition-service.fetch-universe")
	defer span.End()

	outcomes := make(map[string]FetchOutcome, len(codes))
	if len(codes) == 0 {
		return outcomes, nil
	}

	collected := make(map[string][]domain.Bar, len(codes))
	if err := s.fetchBatch(ctx, codes, start, end, collected, outcomes); err != nil {
		return outcomes, err
	}

	// Flush phase: the provider session is closed before any row is
	// written.
	for _, code := range codes {
		bars, ok := collected[code]
		if !ok {
			continue
		}
		if len(bars) == 0 {
			outcomes[code] = FetchOutcome{}
			continue
		}
		if err := s.bars.UpsertBars(ctx, code, bars); err != nil {
			return outcomes, fmt.Errorf("upsert bars for %s: %w", code, err)
		}
		outcomes[code] = FetchOutcome{Bars: len(bars)}
	}
	return outcomes, nil
}

// fetchBatch runs the session-bound phase: login, a retried query per code,
// logout. Fetched series land in collected; instruments that exhaust their
// retries land in outcomes and the batch moves on.
func (s *AcquisitionService) fetchBatch(
	ctx context.Context,
	codes []string,
	start, end time.Time,
	collected map[string][]domain.Bar,
	outcomes map[string]FetchOutcome,
) error {
	if err := s.acquireSlot(ctx); err != nil {
		return err
	}
	defer s.releaseSlot()

	session, err := s.gateway.Login(ctx)
	if err != nil {
		return fmt.Errorf("provider login: %w", err)
	}
	defer func() {
		if err := session.Logout(context.WithoutCancel(ctx)); err != nil {
			log.Printf("provider logout error: %v", err)
		}
	}()

	for i, code := range codes {
		if err := ctx.Err(); err != nil {
			return err
		}
		bars, err := s.fetchWithRetry(ctx, session, code, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("skipping %s after %d attempts: %v", code, s.maxAttempts, err)
			outcomes[code] = FetchOutcome{Err: err}
			continue
		}
		collected[code] = bars
		if (i+1)%progressLogEvery == 0 {
			log.Printf("daily bar fetch progress: %d/%d instruments", i+1, len(codes))
		}
	}
	return nil
}

// FetchAllDaily backfills daily bars for every known instrument over the
// trailing number of days (default 365 when days <= 0). Returns the number
// of instruments that produced data.
func (s *AcquisitionService) FetchAllDaily(ctx context.Context, days int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "acquisition-service.fetch-all-daily")
	defer span.End()

	if days <= 0 {
		days = DefaultBackfillDays
	}
	codes, err := s.instruments.AllCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list instrument codes: %w", err)
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	outcomes, err := s.FetchUniverse(ctx, codes, start, end)
	if err != nil {
		return 0, err
	}
	return countFetched(outcomes), nil
}

// RefreshRecent re-fetches the trailing refresh window for every instrument
// whose stored history is behind today. Upserts make the overlap with
// existing rows harmless.
func (s *AcquisitionService) RefreshRecent(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "acquisition-service.refresh-recent")
	defer span.End()

	codes, err := s.instruments.AllCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list instrument codes: %w", err)
	}
	end := time.Now().UTC()
	today := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	stale := make([]string, 0, len(codes))
	for _, code := range codes {
		last, ok, err := s.bars.LastBarDate(ctx, code)
		if err != nil {
			return 0, fmt.Errorf("last bar date for %s: %w", code, err)
		}
		if ok && !last.Before(today) {
			continue
		}
		stale = append(stale, code)
	}
	if skipped := len(codes) - len(stale); skipped > 0 {
		log.Printf("daily refresh: %d/%d instruments already current", skipped, len(codes))
	}

	start := end.AddDate(0, 0, -s.refreshWindow)
	outcomes, err := s.FetchUniverse(ctx, stale, start, end)
	if err != nil {
		return 0, err
	}
	return countFetched(outcomes), nil
}

// FetchAllIndexMembership replaces the stored membership of every supported
// index with the provider's current constituent list.
func (s *AcquisitionService) FetchAllIndexMembership(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "acquisition-service.fetch-all-index-membership")
	defer span.End()

	if err := s.acquireSlot(ctx); err != nil {
		return err
	}
	defer s.releaseSlot()

	session, err := s.gateway.Login(ctx)
	if err != nil {
		return fmt.Errorf("provider login: %w", err)
	}
	defer func() {
		if err := session.Logout(context.WithoutCancel(ctx)); err != nil {
			log.Printf("provider logout error: %v", err)
		}
	}()

	for _, index := range domain.SupportedIndexes {
		var members []domain.Instrument
		err := retry.Do(ctx, s.maxAttempts, s.baseDelay, func() error {
			var qerr error
			members, qerr = session.QueryIndexMembers(ctx, index)
			return qerr
		})
		if err != nil {
			return fmt.Errorf("query %s members: %w", index, err)
		}
		if err := s.instruments.ReplaceIndexMembers(ctx, index, members); err != nil {
			return fmt.Errorf("replace %s members: %w", index, err)
		}
		log.Printf("index membership refreshed: %s (%d instruments)", index, len(members))
	}
	return nil
}

func (s *AcquisitionService) fetchWithRetry(
	ctx context.Context,
	session MarketSession,
	code string,
	start, end time.Time,
) ([]domain.Bar, error) {
	var bars []domain.Bar
	err := retry.Do(ctx, s.maxAttempts, s.baseDelay, func() error {
		var qerr error
		bars, qerr = session.QueryDailyBars(ctx, code, start, end)
		return qerr
	})
	return bars, err
}

// countFetched counts instruments that produced at least one stored bar.
func countFetched(outcomes map[string]FetchOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err == nil && o.Bars > 0 {
			n++
		}
	}
	return n
}

func (s *AcquisitionService) acquireSlot(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AcquisitionService) releaseSlot() {
	<-s.slots
}
