package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"dumpsite-dispatch/internal/models"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	file, err := OpenFile(filepath.Join(t.TempDir(), "state", "dispatch.yaml"))
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemory(),
		"file":   file,
		"redis":  NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	accepted := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := st.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, empty.Jobs)
			require.Empty(t, empty.Workers)

			err = st.Update(ctx, func(s *Snapshot) error {
				s.Jobs["job-1"] = models.Job{
					ID:             "job-1",
					Zone:           "North",
					Severity:       models.SeverityHigh,
					Status:         models.StatusAccepted,
					AssigneeID:     "worker-1",
					AcceptedAt:     &accepted,
					TimerMinutes:   240,
					TimerStartedAt: &accepted,
				}
				s.Workers["worker-1"] = models.Worker{
					ID:           "worker-1",
					Zone:         "North",
					Role:         models.RoleWorker,
					Availability: models.Busy,
					Earnings:     []models.EarningRecord{{JobID: "job-0", Amount: 200, Kind: models.EarningBonus, Date: accepted}},
				}
				return nil
			})
			require.NoError(t, err)

			snap, err := st.Load(ctx)
			require.NoError(t, err)
			job := snap.Jobs["job-1"]
			require.Equal(t, models.StatusAccepted, job.Status)
			require.Equal(t, 240, job.TimerMinutes)
			require.NotNil(t, job.TimerStartedAt)
			require.True(t, accepted.Equal(*job.TimerStartedAt))
			require.Equal(t, models.Busy, snap.Workers["worker-1"].Availability)
			require.Len(t, snap.Workers["worker-1"].Earnings, 1)
		})
	}
}

func TestStoreFailedUpdateCommitsNothing(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Update(ctx, func(s *Snapshot) error {
				s.Workers["w"] = models.Worker{ID: "w", Availability: models.Free}
				return nil
			}))

			err := st.Update(ctx, func(s *Snapshot) error {
				w := s.Workers["w"]
				w.Availability = models.Busy
				s.Workers["w"] = w
				s.Jobs["j"] = models.Job{ID: "j", Status: models.StatusAccepted}
				return boom
			})
			require.ErrorIs(t, err, boom)

			snap, err := st.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, models.Free, snap.Workers["w"].Availability)
			require.NotContains(t, snap.Jobs, "j")
		})
	}
}

func TestStoreLoadIsDetached(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	require.NoError(t, st.Update(ctx, func(s *Snapshot) error {
		s.Workers["w"] = models.Worker{ID: "w", Earnings: []models.EarningRecord{{Amount: 1}}}
		return nil
	}))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	snap.Workers["w"].Earnings[0].Amount = 999

	again, err := st.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), again.Workers["w"].Earnings[0].Amount)
}

func TestStoreConcurrentCounterUpdates(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Update(ctx, func(s *Snapshot) error {
				s.Workers["w"] = models.Worker{ID: "w"}
				return nil
			}))

			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- st.Update(ctx, func(s *Snapshot) error {
						w := s.Workers["w"]
						w.CompletedLifetime++
						s.Workers["w"] = w
						return nil
					})
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			snap, err := st.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, n, snap.Workers["w"].CompletedLifetime)
		})
	}
}

// sharedHandles opens two independent handles per durable backend over the same state.
func sharedHandles(t *testing.T) map[string][2]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	first, err := OpenFile(path)
	require.NoError(t, err)
	second, err := OpenFile(path)
	require.NoError(t, err)

	redisHandle := func() Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedis(client, "test")
	}
	return map[string][2]Store{
		"file":  {first, second},
		"redis": {redisHandle(), redisHandle()},
	}
}

func TestStoreClaimAcrossHandlesHasOneWinner(t *testing.T) {
	ctx := context.Background()
	errTaken := errors.New("taken")
	for name, handles := range sharedHandles(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("job-%d", i)
				require.NoError(t, handles[0].Update(ctx, func(s *Snapshot) error {
					s.Jobs[id] = models.Job{ID: id, Status: models.StatusPending}
					return nil
				}))

				var wg sync.WaitGroup
				results := make([]error, len(handles))
				for h, st := range handles {
					wg.Add(1)
					go func() {
						defer wg.Done()
						results[h] = st.Update(ctx, func(s *Snapshot) error {
							job := s.Jobs[id]
							if job.Status != models.StatusPending {
								return errTaken
							}
							job.Status = models.StatusAccepted
							job.AssigneeID = fmt.Sprintf("worker-%d", h)
							s.Jobs[id] = job
							return nil
						})
					}()
				}
				wg.Wait()

				wins := 0
				for _, err := range results {
					if err == nil {
						wins++
					} else {
						require.ErrorIs(t, err, errTaken)
					}
				}
				require.Equalf(t, 1, wins, "trial %d", i)
			}
		})
	}
}

func TestStoreCounterAcrossHandles(t *testing.T) {
	ctx := context.Background()
	for name, handles := range sharedHandles(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, handles[0].Update(ctx, func(s *Snapshot) error {
				s.Workers["w"] = models.Worker{ID: "w"}
				return nil
			}))

			const perHandle = 4
			var wg sync.WaitGroup
			errs := make(chan error, 2*perHandle)
			for _, st := range handles {
				for i := 0; i < perHandle; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs <- st.Update(ctx, func(s *Snapshot) error {
							w := s.Workers["w"]
							w.CompletedLifetime++
							s.Workers["w"] = w
							return nil
						})
					}()
				}
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			for _, st := range handles {
				snap, err := st.Load(ctx)
				require.NoError(t, err)
				require.Equal(t, 2*perHandle, snap.Workers["w"].CompletedLifetime)
			}
		})
	}
}
