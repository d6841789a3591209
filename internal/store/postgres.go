package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps each collection as one JSONB document in the collections table.
// Update row-locks both documents for the duration of the read-modify-write.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Load reads both collections without locking.
func (s *Postgres) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, data FROM collections WHERE name = ANY($1)
	`, []string{CollectionJobs, CollectionWorkers})
	if err != nil {
		return Snapshot{}, fmt.Errorf("query collections: %w", err)
	}
	return scanSnapshot(rows)
}

// Update reads both collections FOR UPDATE, applies fn and writes both back in one transaction.
func (s *Postgres) Update(ctx context.Context, fn func(*Snapshot) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	// ORDER BY keeps lock acquisition order stable across concurrent writers.
	rows, err := tx.Query(ctx, `
		SELECT name, data FROM collections WHERE name = ANY($1) ORDER BY name FOR UPDATE
	`, []string{CollectionJobs, CollectionWorkers})
	if err != nil {
		return fmt.Errorf("lock collections: %w", err)
	}
	snap, err := scanSnapshot(rows)
	if err != nil {
		return err
	}

	if err := fn(&snap); err != nil {
		return err
	}
	snap.ensure()

	jobsJSON, err := json.Marshal(snap.Jobs)
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	workersJSON, err := json.Marshal(snap.Workers)
	if err != nil {
		return fmt.Errorf("marshal workers: %w", err)
	}

	batch := &pgx.Batch{}
	upsert := `
		INSERT INTO collections (name, data, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (name) DO UPDATE
		SET data = EXCLUDED.data, version = collections.version + 1, updated_at = NOW()
	`
	batch.Queue(upsert, CollectionJobs, jobsJSON)
	batch.Queue(upsert, CollectionWorkers, workersJSON)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write collections: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanSnapshot(rows pgx.Rows) (Snapshot, error) {
	defer rows.Close()
	snap := NewSnapshot()
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return Snapshot{}, fmt.Errorf("scan collection: %w", err)
		}
		if err := decodeCollection(name, data, &snap); err != nil {
			return Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate collections: %w", err)
	}
	return snap, nil
}

func decodeCollection(name string, data []byte, snap *Snapshot) error {
	if len(data) == 0 {
		return nil
	}
	var err error
	switch name {
	case CollectionJobs:
		err = json.Unmarshal(data, &snap.Jobs)
	case CollectionWorkers:
		err = json.Unmarshal(data, &snap.Workers)
	default:
		return errors.New("unknown collection " + name)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	snap.ensure()
	return nil
}
