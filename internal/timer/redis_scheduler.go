package timer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisScheduler keeps armed releases in a sorted set scored by due time, with the
// worker and attempt count in a per-job hash. Releases survive process restarts.
type RedisScheduler struct {
	client       *redis.Client
	scheduledKey string
	metaPrefix   string
}

func NewRedisScheduler(client *redis.Client, prefix string) *RedisScheduler {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &RedisScheduler{
		client:       client,
		scheduledKey: prefix + ":release:scheduled",
		metaPrefix:   prefix + ":release:meta:",
	}
}

func (s *RedisScheduler) metaKey(jobID string) string {
	return s.metaPrefix + jobID
}

func (s *RedisScheduler) Arm(ctx context.Context, r Release) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.metaKey(r.JobID), "worker", r.WorkerID, "attempts", r.Attempts)
	pipe.ZAdd(ctx, s.scheduledKey, redis.Z{Score: float64(r.DueAt.UnixMilli()), Member: r.JobID})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisScheduler) Disarm(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.scheduledKey, jobID)
	pipe.Del(ctx, s.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Due atomically pops up to limit releases whose due time is at or before now.
func (s *RedisScheduler) Due(ctx context.Context, now time.Time, limit int) ([]Release, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := popDueScript.Run(ctx, s.client, []string{s.scheduledKey}, now.UnixMilli(), limit, s.metaPrefix).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	flat, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from pop script: %T", res)
	}
	out := make([]Release, 0, len(flat)/4)
	for i := 0; i+3 < len(flat); i += 4 {
		jobID, _ := flat[i].(string)
		workerID, _ := flat[i+1].(string)
		attempts, _ := strconv.Atoi(fmt.Sprint(flat[i+2]))
		scoreMs, _ := strconv.ParseFloat(fmt.Sprint(flat[i+3]), 64)
		out = append(out, Release{
			JobID:    jobID,
			WorkerID: workerID,
			Attempts: attempts,
			DueAt:    time.UnixMilli(int64(scoreMs)).UTC(),
		})
	}
	return out, nil
}

func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.scheduledKey).Result()
}

var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  local score = redis.call('ZSCORE', KEYS[1], id)
  redis.call('ZREM', KEYS[1], id)
  local meta = ARGV[3] .. id
  local worker = redis.call('HGET', meta, 'worker') or ''
  local attempts = redis.call('HGET', meta, 'attempts') or '0'
  redis.call('DEL', meta)
  table.insert(out, id)
  table.insert(out, worker)
  table.insert(out, attempts)
  table.insert(out, score)
end
return out
`)
