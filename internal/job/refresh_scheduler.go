package job

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRefreshAt is the wall-clock run time of the nightly refresh.
	DefaultRefreshAt = "02:00"

	// errorCooldown is how long the loop backs off after a failed run
	// before recomputing the next scheduled time.
	errorCooldown = time.Hour
)

// JobStatus describes what the refresh loop is currently doing.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusBackoff JobStatus = "backoff"
)

// JobRecord is a point-in-time view of the refresh job, safe to serialize
// while the loop keeps running. Only the scheduler writes the live copy.
type JobRecord struct {
	Status    JobStatus `json:"status"`
	NextRunAt time.Time `json:"next_run_at"`
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `json:"last_error,omitempty"`
}

type jobState struct {
	mu  sync.Mutex
	rec JobRecord
}

func (s *jobState) snapshot() JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *jobState) set(fn func(*JobRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.rec)
}

// MembershipRefresher reloads index constituents from the provider.
type MembershipRefresher interface {
	FetchAllIndexMembership(ctx context.Context) error
}

// DailyRefresher pulls daily bars: a full backfill for the initial load and
// a trailing window for the nightly run.
type DailyRefresher interface {
	FetchAllDaily(ctx context.Context, days int) (int, error)
	RefreshRecent(ctx context.Context) (int, error)
}

// RefreshScheduler drives the nightly data refresh: an initial best-effort
// load at startup, then one run per day at a fixed wall-clock time. A
// failed run cools down for an hour before the next time is recomputed.
type RefreshScheduler struct {
	tracer      trace.Tracer
	membership  MembershipRefresher
	daily       DailyRefresher
	refreshAt   string
	backfillDay int
	now         func() time.Time

	state jobState
}

func NewRefreshScheduler(
	tracer trace.Tracer,
	membership MembershipRefresher,
	daily DailyRefresher,
	refreshAt string,
	backfillDays int,
) *RefreshScheduler {
	if refreshAt == "" {
		refreshAt = DefaultRefreshAt
	}
	return &RefreshScheduler{
		tracer:      tracer,
		membership:  membership,
		daily:       daily,
		refreshAt:   refreshAt,
		backfillDay: backfillDays,
		now:         time.Now,
	}
}

// Record returns a snapshot of the job state for status endpoints.
func (s *RefreshScheduler) Record() JobRecord {
	return s.state.snapshot()
}

// Start runs the initial load in the background and then blocks in the
// daily loop until ctx is cancelled. In-flight runs finish; cancellation
// is honored at loop boundaries.
func (s *RefreshScheduler) Start(ctx context.Context) {
	if s.membership == nil || s.daily == nil {
		log.Println("Refresh scheduler disabled: no acquisition service")
		<-ctx.Done()
		return
	}

	log.Println("Refresh scheduler starting...")
	go s.initialLoad(ctx)
	s.runDailyLoop(ctx)
	log.Println("Refresh scheduler stopped")
}

// initialLoad seeds membership and history once at startup. Failures are
// logged; the nightly loop repairs them.
func (s *RefreshScheduler) initialLoad(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "refresh-scheduler.initial-load")
	defer span.End()

	if err := s.membership.FetchAllIndexMembership(ctx); err != nil {
		log.Printf("initial membership load error: %v", err)
	}
	fetched, err := s.daily.FetchAllDaily(ctx, s.backfillDay)
	if err != nil {
		log.Printf("initial daily backfill error: %v", err)
		return
	}
	log.Printf("initial daily backfill complete: %d instruments", fetched)
}

func (s *RefreshScheduler) runDailyLoop(ctx context.Context) {
	for {
		next := nextOccurrence(s.now(), s.refreshAt)
		s.state.set(func(r *JobRecord) {
			r.Status = StatusIdle
			r.NextRunAt = next
		})

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("daily refresh error, backing off %s: %v", errorCooldown, err)
			s.state.set(func(r *JobRecord) {
				r.Status = StatusBackoff
				r.LastError = err.Error()
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorCooldown):
			}
		}
	}
}

func (s *RefreshScheduler) runOnce(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "refresh-scheduler.run-once")
	defer span.End()

	started := s.now()
	s.state.set(func(r *JobRecord) {
		r.Status = StatusRunning
		r.LastRunAt = started
	})

	if err := s.membership.FetchAllIndexMembership(ctx); err != nil {
		return err
	}
	fetched, err := s.daily.RefreshRecent(ctx)
	if err != nil {
		return err
	}
	log.Printf("daily refresh complete: %d instruments", fetched)

	s.state.set(func(r *JobRecord) {
		r.Status = StatusIdle
		r.LastError = ""
	})
	return nil
}

// nextOccurrence computes the next wall-clock occurrence of an "HH:MM"
// time, strictly after now. Malformed input falls back to the default.
func nextOccurrence(now time.Time, at string) time.Time {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		log.Printf("invalid refresh time %q, using %s", at, DefaultRefreshAt)
		parsed, _ = time.Parse("15:04", DefaultRefreshAt)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
