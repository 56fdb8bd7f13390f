package repository

import (
	"context"
	"errors"
	"fmt"

	"goldenscan/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentRepository owns index membership. A membership fetch replaces
// the whole set for that index, so removals are reflected exactly.
type InstrumentRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewInstrumentRepository(pool PgxPool, tracer trace.Tracer) *InstrumentRepository {
	return &InstrumentRepository{pool: pool, tracer: tracer}
}

func (r *InstrumentRepository) RunMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			index_tag   TEXT        NOT NULL,
			code        TEXT        NOT NULL,
			name        TEXT        NOT NULL DEFAULT '',
			update_date TEXT        NOT NULL DEFAULT '',
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (index_tag, code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instruments_code ON instruments (code)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("instrument migrations: %w", err)
		}
	}
	return nil
}

// ReplaceIndexMembers deletes the existing membership for index and inserts
// the new set, all in one transaction.
func (r *InstrumentRepository) ReplaceIndexMembers(ctx context.Context, index domain.IndexTag, instruments []domain.Instrument) error {
	_, span := r.tracer.Start(ctx, "instrument-repo.replace-index-members")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace members %s: begin: %w", index, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM instruments WHERE index_tag = $1`, index); err != nil {
		return fmt.Errorf("replace members %s: delete: %w", index, err)
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, ins := range instruments {
		if ins.Code == "" {
			continue
		}
		batch.Queue(
			`INSERT INTO instruments (index_tag, code, name, update_date, updated_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			index, ins.Code, ins.Name, ins.UpdateDate,
		)
		queued++
	}

	if queued > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < queued; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("replace members %s: insert: %w", index, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("replace members %s: close batch: %w", index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace members %s: commit: %w", index, err)
	}
	return nil
}

func (r *InstrumentRepository) ListInstruments(ctx context.Context, index domain.IndexTag) ([]domain.Instrument, error) {
	_, span := r.tracer.Start(ctx, "instrument-repo.list-instruments")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT index_tag, code, name, update_date
		 FROM instruments
		 WHERE index_tag = $1
		 ORDER BY code`,
		index,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var ins domain.Instrument
		if err := rows.Scan(&ins.Index, &ins.Code, &ins.Name, &ins.UpdateDate); err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// AllCodes returns every distinct constituent code across all indexes.
func (r *InstrumentRepository) AllCodes(ctx context.Context) ([]string, error) {
	_, span := r.tracer.Start(ctx, "instrument-repo.all-codes")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT DISTINCT code FROM instruments ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// GetName returns the listed name for code, or "" when the code is not a
// known constituent.
func (r *InstrumentRepository) GetName(ctx context.Context, code string) (string, error) {
	_, span := r.tracer.Start(ctx, "instrument-repo.get-name")
	defer span.End()

	var name string
	err := r.pool.QueryRow(ctx,
		`SELECT name FROM instruments WHERE code = $1 LIMIT 1`,
		code,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
