package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"goldenscan/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

func TestReplaceIndexMembersDeletesThenInserts(t *testing.T) {
	tx := &instStubTx{}
	pool := &instStubPool{tx: tx}
	repo := NewInstrumentRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	instruments := []domain.Instrument{
		{Code: "sh.600000", Name: "PF Bank", Index: domain.IndexHS300},
		{Code: "sz.000001", Name: "PA Bank", Index: domain.IndexHS300},
	}
	if err := repo.ReplaceIndexMembers(context.Background(), domain.IndexHS300, instruments); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tx.execSQL) == 0 || !strings.Contains(tx.execSQL[0], "DELETE FROM instruments WHERE index_tag") {
		t.Fatalf("expected delete before insert, got: %v", tx.execSQL)
	}
	if tx.sentBatch == nil || tx.sentBatch.Len() != 2 {
		t.Fatal("expected batch insert of 2 instruments")
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
}

func TestReplaceIndexMembersSkipsEmptyCodes(t *testing.T) {
	tx := &instStubTx{}
	pool := &instStubPool{tx: tx}
	repo := NewInstrumentRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	instruments := []domain.Instrument{
		{Code: "", Name: "ghost"},
		{Code: "sh.600519", Name: "Moutai"},
	}
	if err := repo.ReplaceIndexMembers(context.Background(), domain.IndexZZ500, instruments); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.sentBatch == nil || tx.sentBatch.Len() != 1 {
		t.Fatal("expected only the named instrument to be queued")
	}
}

func TestReplaceIndexMembersEmptySetStillReplaces(t *testing.T) {
	tx := &instStubTx{}
	pool := &instStubPool{tx: tx}
	repo := NewInstrumentRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if err := repo.ReplaceIndexMembers(context.Background(), domain.IndexHS300, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.execSQL) == 0 || !strings.Contains(tx.execSQL[0], "DELETE") {
		t.Fatal("expected delete even for empty replacement set")
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
}

func TestListInstrumentsMapsRows(t *testing.T) {
	pool := &instStubPool{rowsData: [][]any{
		{"hs300", "sh.600000", "PF Bank", "2026-01-02"},
	}}
	repo := NewInstrumentRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	out, err := repo.ListInstruments(context.Background(), domain.IndexHS300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Code != "sh.600000" || out[0].Index != domain.IndexHS300 {
		t.Fatalf("unexpected instruments: %+v", out)
	}
}

func TestAllCodesDistinct(t *testing.T) {
	pool := &instStubPool{rowsData: [][]any{
		{"sh.600000"}, {"sz.000001"},
	}}
	repo := NewInstrumentRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	codes, err := repo.AllCodes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != 2 || codes[0] != "sh.600000" {
		t.Fatalf("unexpected codes: %v", codes)
	}
	if !strings.Contains(pool.lastQuery, "DISTINCT") {
		t.Fatalf("expected distinct select: %s", pool.lastQuery)
	}
}

func TestGetNameMissingCode(t *testing.T) {
	pool := &instStubPool{rowErr: pgx.ErrNoRows}
	repo := NewInstrumentRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	name, err := repo.GetName(context.Background(), "sh.999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "" {
		t.Fatalf("expected empty name, got %q", name)
	}
}

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type instStubPool struct {
	tx        *instStubTx
	rowsData  [][]any
	rowErr    error
	lastQuery string
}

func (s *instStubPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *instStubPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &instStubBatchResults{}
}

func (s *instStubPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.lastQuery = sql
	return &instStubRows{data: s.rowsData}, nil
}

func (s *instStubPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.lastQuery = sql
	return &instStubRow{err: s.rowErr}
}

func (s *instStubPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if s.tx == nil {
		s.tx = &instStubTx{}
	}
	return s.tx, nil
}

type instStubTx struct {
	execSQL      []string
	sentBatch    *pgx.Batch
	batchResults instStubBatchResults
	committed    bool
}

func (s *instStubTx) Begin(ctx context.Context) (pgx.Tx, error) { return s, nil }

func (s *instStubTx) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func (s *instStubTx) Rollback(ctx context.Context) error { return nil }

func (s *instStubTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (s *instStubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	s.sentBatch = b
	return &s.batchResults
}

func (s *instStubTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (s *instStubTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (s *instStubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.execSQL = append(s.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (s *instStubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &instStubRows{}, nil
}

func (s *instStubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &instStubRow{}
}

func (s *instStubTx) Conn() *pgx.Conn { return nil }

type instStubBatchResults struct {
	execCalls int
}

func (s *instStubBatchResults) Exec() (pgconn.CommandTag, error) {
	s.execCalls++
	return pgconn.CommandTag{}, nil
}

func (s *instStubBatchResults) Query() (pgx.Rows, error) { return &instStubRows{}, nil }

func (s *instStubBatchResults) QueryRow() pgx.Row { return &instStubRow{} }

func (s *instStubBatchResults) Close() error { return nil }

type instStubRows struct {
	data [][]any
	idx  int
}

func (r *instStubRows) Close() {}

func (r *instStubRows) Err() error { return nil }

func (r *instStubRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *instStubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *instStubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *instStubRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("invalid scan index")
	}
	row := r.data[r.idx-1]
	for i, d := range dest {
		switch ptr := d.(type) {
		case *string:
			*ptr = row[i].(string)
		case *domain.IndexTag:
			*ptr = domain.IndexTag(row[i].(string))
		case *time.Time:
			*ptr = row[i].(time.Time)
		default:
			return fmt.Errorf("unsupported dest type %T", d)
		}
	}
	return nil
}

func (r *instStubRows) Values() ([]any, error) { return nil, nil }

func (r *instStubRows) RawValues() [][]byte { return nil }

func (r *instStubRows) Conn() *pgx.Conn { return nil }

type instStubRow struct {
	err error
}

func (r *instStubRow) Scan(dest ...any) error { return r.err }
