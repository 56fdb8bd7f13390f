package repository

import (
	"context"
	"fmt"
	"time"

	"goldenscan/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BarRepository owns the daily_bars table. No other component writes bar
// rows.
type BarRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewBarRepository(pool PgxPool, tracer trace.Tracer) *BarRepository {
	return &BarRepository{pool: pool, tracer: tracer}
}

func (r *BarRepository) RunMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_bars (
			code        TEXT             NOT NULL,
			trade_date  DATE             NOT NULL,
			open        DOUBLE PRECISION NOT NULL,
			high        DOUBLE PRECISION NOT NULL,
			low         DOUBLE PRECISION NOT NULL,
			close       DOUBLE PRECISION NOT NULL,
			volume      DOUBLE PRECISION NOT NULL,
			amount      DOUBLE PRECISION NOT NULL,
			adjust_flag TEXT             NOT NULL DEFAULT '',
			updated_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			PRIMARY KEY (code, trade_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_bars_code ON daily_bars (code)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_bars_code_date ON daily_bars (code, trade_date)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bar migrations: %w", err)
		}
	}
	return nil
}

// UpsertBars writes one instrument's bars inside a single transaction so a
// mid-batch failure never leaves a half-written batch visible to readers.
// Re-ingesting an existing (code, trade_date) overwrites its fields.
func (r *BarRepository) UpsertBars(ctx context.Context, code string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "bar-repo.upsert-bars")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert bars %s: begin: %w", code, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(
			`INSERT INTO daily_bars (code, trade_date, open, high, low, close, volume, amount, adjust_flag, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			 ON CONFLICT (code, trade_date) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume,
			     amount = EXCLUDED.amount,
			     adjust_flag = EXCLUDED.adjust_flag,
			     updated_at = NOW()`,
			code, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount, b.AdjustFlag,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range bars {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert bars %s: %w", code, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upsert bars %s: close batch: %w", code, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("upsert bars %s: commit: %w", code, err)
	}
	return nil
}

// GetBarsInRange returns bars for code ascending by date. A zero start or
// end leaves that bound open; both zero returns full history.
func (r *BarRepository) GetBarsInRange(ctx context.Context, code string, start, end time.Time) ([]domain.Bar, error) {
	_, span := r.tracer.Start(ctx, "bar-repo.get-bars-in-range")
	defer span.End()

	query := `SELECT code, trade_date, open, high, low, close, volume, amount, adjust_flag
	          FROM daily_bars
	          WHERE code = $1`
	args := []any{code}
	if !start.IsZero() {
		args = append(args, start)
		query += fmt.Sprintf(" AND trade_date >= $%d", len(args))
	}
	if !end.IsZero() {
		args = append(args, end)
		query += fmt.Sprintf(" AND trade_date <= $%d", len(args))
	}
	query += " ORDER BY trade_date ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Code, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount, &b.AdjustFlag); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LastBarDate returns the most recent trade date stored for code. The bool
// is false when no bars exist.
func (r *BarRepository) LastBarDate(ctx context.Context, code string) (time.Time, bool, error) {
	_, span := r.tracer.Start(ctx, "bar-repo.last-bar-date")
	defer span.End()

	var last *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(trade_date) FROM daily_bars WHERE code = $1`,
		code,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}
