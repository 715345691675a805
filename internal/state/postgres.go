package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Store backed by a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the schema if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres state requires a DSN")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS delivered_entries (
		feed         TEXT NOT NULL,
		entry_id     TEXT NOT NULL,
		delivered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (feed, entry_id)
	)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Load returns every recorded (feed, entry) pair.
func (p *Postgres) Load(ctx context.Context) (Snapshot, error) {
	rows, err := p.pool.Query(ctx, `SELECT feed, entry_id FROM delivered_entries ORDER BY feed, entry_id`)
	if err != nil {
		return nil, fmt.Errorf("query delivered entries: %w", err)
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var feed, id string
		if err := rows.Scan(&feed, &id); err != nil {
			return nil, fmt.Errorf("scan delivered entry: %w", err)
		}
		snap[feed] = append(snap[feed], id)
	}
	return snap, rows.Err()
}

// Save inserts every identifier of snap that is not stored yet, in one
// transaction.
func (p *Postgres) Save(ctx context.Context, snap Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for feed, ids := range snap {
		for _, id := range ids {
			batch.Queue(`INSERT INTO delivered_entries (feed, entry_id) VALUES ($1, $2)
				ON CONFLICT (feed, entry_id) DO NOTHING`, feed, id)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert delivered entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
