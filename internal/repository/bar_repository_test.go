package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"goldenscan/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

func testBars(n int) []domain.Bar {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, domain.Bar{
			Code:   "sh.600000",
			Date:   base.AddDate(0, 0, i),
			Open:   10, High: 11, Low: 9, Close: 10.5 + float64(i),
			Volume: 1000, Amount: 10500,
		})
	}
	return bars
}

func TestUpsertBarsRunsInsideTransaction(t *testing.T) {
	tx := &barStubTx{}
	pool := &barStubPool{tx: tx}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	bars := testBars(3)
	if err := repo.UpsertBars(context.Background(), "sh.600000", bars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.sentBatch == nil || tx.sentBatch.Len() != len(bars) {
		t.Fatalf("expected batch of %d statements", len(bars))
	}
	if !tx.committed {
		t.Fatal("expected transaction to be committed")
	}
	if tx.batchResults.execCalls != len(bars) {
		t.Fatalf("expected %d Exec calls, got %d", len(bars), tx.batchResults.execCalls)
	}
}

func TestUpsertBarsStatementsAreIdempotent(t *testing.T) {
	tx := &barStubTx{}
	pool := &barStubPool{tx: tx}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if err := repo.UpsertBars(context.Background(), "sh.600000", testBars(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(tx.queuedSQL[0], "ON CONFLICT (code, trade_date) DO UPDATE") {
		t.Fatalf("expected conflict-update upsert, got: %s", tx.queuedSQL[0])
	}
}

func TestUpsertBarsEmptyBatchIsNoop(t *testing.T) {
	pool := &barStubPool{}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if err := repo.UpsertBars(context.Background(), "sh.600000", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.beginCalls != 0 {
		t.Fatal("expected no transaction for empty batch")
	}
}

func TestUpsertBarsRollsBackOnFailure(t *testing.T) {
	tx := &barStubTx{batchResults: barStubBatchResults{execErr: errors.New("constraint violation")}}
	pool := &barStubPool{tx: tx}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	err := repo.UpsertBars(context.Background(), "sh.600000", testBars(2))
	if err == nil {
		t.Fatal("expected error")
	}
	if tx.committed {
		t.Fatal("failed batch must not be committed")
	}
	if !tx.rolledBack {
		t.Fatal("expected rollback after batch failure")
	}
}

func TestGetBarsInRangeBuildsBounds(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	pool := &barStubPool{rowsData: [][]any{
		{"sh.600000", day, 10.0, 11.0, 9.0, 10.5, 1000.0, 10500.0, "3"},
	}}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	bars, err := repo.GetBarsInRange(context.Background(), "sh.600000", day.AddDate(0, 0, -30), day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 10.5 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
	if !strings.Contains(pool.lastQuery, "trade_date >= $2") || !strings.Contains(pool.lastQuery, "trade_date <= $3") {
		t.Fatalf("expected both bounds in query: %s", pool.lastQuery)
	}
	if !strings.Contains(pool.lastQuery, "ORDER BY trade_date ASC") {
		t.Fatalf("expected ascending order: %s", pool.lastQuery)
	}
}

func TestGetBarsInRangeUnboundedOmitsFilters(t *testing.T) {
	pool := &barStubPool{}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if _, err := repo.GetBarsInRange(context.Background(), "sh.600000", time.Time{}, time.Time{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(pool.lastQuery, ">=") || strings.Contains(pool.lastQuery, "<=") {
		t.Fatalf("expected no bounds in query: %s", pool.lastQuery)
	}
}

func TestLastBarDateEmptyTable(t *testing.T) {
	pool := &barStubPool{}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	_, ok, err := repo.LastBarDate(context.Background(), "sh.600000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no last date for empty table")
	}
}

func TestLastBarDateReturnsMax(t *testing.T) {
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	pool := &barStubPool{rowValue: &day}
	repo := NewBarRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	got, ok, err := repo.LastBarDate(context.Background(), "sh.600000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !got.Equal(day) {
		t.Fatalf("unexpected last date: %v ok=%v", got, ok)
	}
}

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type barStubPool struct {
	tx         *barStubTx
	beginCalls int
	rowsData   [][]any
	rowValue   *time.Time
	lastQuery  string
}

func (s *barStubPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *barStubPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &barStubBatchResults{}
}

func (s *barStubPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.lastQuery = sql
	return &barStubRows{data: s.rowsData}, nil
}

func (s *barStubPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.lastQuery = sql
	return &barStubRow{value: s.rowValue}
}

func (s *barStubPool) Begin(ctx context.Context) (pgx.Tx, error) {
	s.beginCalls++
	if s.tx == nil {
		s.tx = &barStubTx{}
	}
	return s.tx, nil
}

type barStubTx struct {
	queuedSQL    []string
	sentBatch    *pgx.Batch
	batchResults barStubBatchResults
	committed    bool
	rolledBack   bool
}

func (s *barStubTx) Begin(ctx context.Context) (pgx.Tx, error) { return s, nil }

func (s *barStubTx) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func (s *barStubTx) Rollback(ctx context.Context) error {
	if !s.committed {
		s.rolledBack = true
	}
	return nil
}

func (s *barStubTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (s *barStubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	s.sentBatch = b
	for _, q := range b.QueuedQueries {
		s.queuedSQL = append(s.queuedSQL, q.SQL)
	}
	return &s.batchResults
}

func (s *barStubTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (s *barStubTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (s *barStubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.queuedSQL = append(s.queuedSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (s *barStubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &barStubRows{}, nil
}

func (s *barStubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &barStubRow{}
}

func (s *barStubTx) Conn() *pgx.Conn { return nil }

type barStubBatchResults struct {
	execCalls int
	execErr   error
}

func (s *barStubBatchResults) Exec() (pgconn.CommandTag, error) {
	s.execCalls++
	return pgconn.CommandTag{}, s.execErr
}

func (s *barStubBatchResults) Query() (pgx.Rows, error) { return &barStubRows{}, nil }

func (s *barStubBatchResults) QueryRow() pgx.Row { return &barStubRow{} }

func (s *barStubBatchResults) Close() error { return nil }

type barStubRows struct {
	data [][]any
	idx  int
}

func (r *barStubRows) Close() {}

func (r *barStubRows) Err() error { return nil }

func (r *barStubRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *barStubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *barStubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *barStubRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("invalid scan index")
	}
	row := r.data[r.idx-1]
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = row[i].(string)
		case *time.Time:
			*ptr = row[i].(time.Time)
		case *float64:
			*ptr = row[i].(float64)
		default:
			return fmt.Errorf("unsupported dest type %T", d)
		}
	}
	return nil
}

func (r *barStubRows) Values() ([]any, error) { return nil, nil }

func (r *barStubRows) RawValues() [][]byte { return nil }

func (r *barStubRows) Conn() *pgx.Conn { return nil }

type barStubRow struct {
	value *time.Time
}

func (r *barStubRow) Scan(dest ...any) error {
	if len(dest) == 1 {
		if ptr, ok := dest[0].(**time.Time); ok {
			*ptr = r.value
			return nil
		}
	}
	return nil
}
