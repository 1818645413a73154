package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a single table:
//
//	CREATE TABLE actor_state (
//	    actor_id   TEXT PRIMARY KEY,
//	    data       BYTEA NOT NULL,
//	    seq        BIGINT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
//
// seq is the row version; SaveIfVersion's UPDATE carries `WHERE seq =
// $expected` and detects a conflict from the affected row count (§6).
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresStore wraps an already-configured connection pool.
// tableName defaults to "actor_state" when empty.
func NewPostgresStore(pool *pgxpool.Pool, tableName string) *PostgresStore {
	if tableName == "" {
		tableName = "actor_state"
	}
	return &PostgresStore{pool: pool, tableName: tableName}
}

func (p *PostgresStore) Load(ctx context.Context, actorID string) (Record, error) {
	row := p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data, seq, updated_at FROM %s WHERE actor_id = $1`, p.tableName),
		actorID)

	var rec Record
	if err := row.Scan(&rec.Data, &rec.Seq, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("kv: postgres: select %q: %w", actorID, err)
	}
	return rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, actorID string, data []byte) (uint64, error) {
	current, err := p.SequenceNumber(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		current = 0
	} else if err != nil {
		return 0, err
	}
	return p.write(ctx, actorID, data, current)
}

func (p *PostgresStore) SaveIfVersion(ctx context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	return p.write(ctx, actorID, data, expected)
}

func (p *PostgresStore) write(ctx context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	next := expected + 1
	now := time.Now()

	var tag interface {
		RowsAffected() int64
	}
	var err error

	if expected == 0 {
		tag, err = p.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (actor_id, data, seq, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (actor_id) DO NOTHING`, p.tableName),
			actorID, data, next, now)
	} else {
		tag, err = p.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET data = $1, seq = $2, updated_at = $3
			WHERE actor_id = $4 AND seq = $5`, p.tableName),
			data, next, now, actorID, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("kv: postgres: write %q: %w", actorID, err)
	}

	if tag.RowsAffected() == 0 {
		actual, serr := p.SequenceNumber(ctx, actorID)
		if serr != nil && !errors.Is(serr, ErrNotFound) {
			return 0, fmt.Errorf("kv: postgres: read-after-conflict %q: %w", actorID, serr)
		}
		return 0, &VersionConflictError{ActorID: actorID, Expected: expected, Actual: actual}
	}
	return next, nil
}

func (p *PostgresStore) Delete(ctx context.Context, actorID string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE actor_id = $1`, p.tableName), actorID)
	if err != nil {
		return fmt.Errorf("kv: postgres: delete %q: %w", actorID, err)
	}
	return nil
}

func (p *PostgresStore) SequenceNumber(ctx context.Context, actorID string) (uint64, error) {
	row := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT seq FROM %s WHERE actor_id = $1`, p.tableName), actorID)
	var seq uint64
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("kv: postgres: select seq %q: %w", actorID, err)
	}
	return seq, nil
}

func (p *PostgresStore) Update(ctx context.Context, actorID string, fn Transform) (uint64, error) {
	return RetrySaveIfVersion(ctx, p, actorID, DefaultRetryPolicy(), fn)
}
