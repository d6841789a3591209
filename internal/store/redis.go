package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis stores each collection as a JSON string and applies updates with
// WATCH/MULTI, so a write only lands if neither collection changed since it was read.
type Redis struct {
	client     *redis.Client
	jobsKey    string
	workersKey string
	maxRetries int
}

// NewRedis builds a store over an existing client. prefix namespaces the two keys.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &Redis{
		client:     client,
		jobsKey:    fmt.Sprintf("%s:collection:%s", prefix, CollectionJobs),
		workersKey: fmt.Sprintf("%s:collection:%s", prefix, CollectionWorkers),
		maxRetries: 16,
	}
}

func (s *Redis) Load(ctx context.Context) (Snapshot, error) {
	return s.read(ctx, s.client)
}

// Update retries the optimistic transaction until it commits or maxRetries is exhausted.
func (s *Redis) Update(ctx context.Context, fn func(*Snapshot) error) error {
	txf := func(tx *redis.Tx) error {
		snap, err := s.read(ctx, tx)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.jobsKey, jobsJSON, 0)
			pipe.Set(ctx, s.workersKey, workersJSON, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.jobsKey, s.workersKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Close is a no-op: the client is shared and owned by the caller.
func (s *Redis) Close() error { return nil }

func (s *Redis) read(ctx context.Context, c redis.Cmdable) (Snapshot, error) {
	vals, err := c.MGet(ctx, s.jobsKey, s.workersKey).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read collections: %w", err)
	}
	snap := NewSnapshot()
	names := []string{CollectionJobs, CollectionWorkers}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if err := decodeCollection(names[i], []byte(raw), &snap); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}
