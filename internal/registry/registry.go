// Package registry owns worker records: availability, completion counters and earnings.
//
// Mutations always read-modify-write the whole worker collection through store.Update,
// so concurrent counter updates are never lost.
package registry

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/store"
)

// NewWorker describes a worker to provision. An empty ID gets a generated one.
type NewWorker struct {
	ID   string
	Name string
	Zone string
	Role models.Role
}

type Registry struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: st, now: now}
}

// Provision creates a free worker with zeroed counters.
func (r *Registry) Provision(ctx context.Context, in NewWorker) (models.Worker, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Zone) == "" {
		return models.Worker{}, fmt.Errorf("provision worker: name and zone are required")
	}
	if in.Role == "" {
		in.Role = models.RoleWorker
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	w := models.Worker{
		ID:           in.ID,
		Name:         in.Name,
		Zone:         in.Zone,
		Role:         in.Role,
		Availability: models.Free,
		Earnings:     []models.EarningRecord{},
		CreatedAt:    r.now().UTC(),
	}
	err := r.store.Update(ctx, func(s *store.Snapshot) error {
		if _, exists := s.Workers[w.ID]; exists {
			return fmt.Errorf("worker %s: %w", w.ID, store.ErrExists)
		}
		s.Workers[w.ID] = w
		return nil
	})
	if err != nil {
		return models.Worker{}, fmt.Errorf("provision worker: %w", err)
	}
	return w, nil
}

func (r *Registry) Find(ctx context.Context, id string) (models.Worker, bool, error) {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return models.Worker{}, false, fmt.Errorf("find worker: %w", err)
	}
	w, ok := snap.Workers[id]
	return w, ok, nil
}

// SetAvailability writes the availability flag. Setting the current value again is a no-op write.
func (r *Registry) SetAvailability(ctx context.Context, id string, a models.Availability) error {
	return r.mutate(ctx, id, func(w models.Worker) models.Worker {
		w.Availability = a
		return w
	})
}

// RecordCompletion bumps the daily and lifetime counters and appends the earning in one write.
func (r *Registry) RecordCompletion(ctx context.Context, id string, e models.EarningRecord) error {
	return r.mutate(ctx, id, func(w models.Worker) models.Worker {
		return w.RecordCompletion(e)
	})
}

// ListByZoneAndRole yields workers in zone (any zone when empty) holding one of roles
// (any role when none given), ordered by id.
func (r *Registry) ListByZoneAndRole(ctx context.Context, zone string, roles ...models.Role) (iter.Seq[models.Worker], error) {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return Filter(snap.Workers, zone, roles...), nil
}

// Filter is ListByZoneAndRole over an already loaded collection.
func Filter(workers map[string]models.Worker, zone string, roles ...models.Role) iter.Seq[models.Worker] {
	ids := make([]string, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return func(yield func(models.Worker) bool) {
		for _, id := range ids {
			w := workers[id]
			if zone != "" && w.Zone != zone {
				continue
			}
			if len(roles) > 0 && !hasRole(roles, w.Role) {
				continue
			}
			if !yield(w.Clone()) {
				return
			}
		}
	}
}

// ResetDaily zeroes every worker's daily completion count and returns how many changed.
func (r *Registry) ResetDaily(ctx context.Context) (int, error) {
	changed := 0
	err := r.store.Update(ctx, func(s *store.Snapshot) error {
		changed = 0
		for id, w := range s.Workers {
			if w.CompletedToday == 0 {
				continue
			}
			w.CompletedToday = 0
			s.Workers[id] = w
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset daily counters: %w", err)
	}
	return changed, nil
}

// SeedRoster provisions perRole ordinary and perRole senior workers in every zone,
// but only when the registry is empty. It returns how many workers were created.
func (r *Registry) SeedRoster(ctx context.Context, zones []string, perRole int) (int, error) {
	created := 0
	now := r.now().UTC()
	err := r.store.Update(ctx, func(s *store.Snapshot) error {
		created = 0
		if len(s.Workers) > 0 {
			return nil
		}
		for _, zone := range zones {
			slug := strings.ToLower(zone)
			for i := 1; i <= perRole; i++ {
				for _, role := range []models.Role{models.RoleWorker, models.RoleSenior} {
					prefix, label := "worker", "Worker"
					if role == models.RoleSenior {
						prefix, label = "senior", "Senior Worker"
					}
					id := fmt.Sprintf("%s-%s-%d", prefix, slug, i)
					s.Workers[id] = models.Worker{
						ID:           id,
						Name:         fmt.Sprintf("%s %s %d", label, zone, i),
						Zone:         zone,
						Role:         role,
						Availability: models.Free,
						Earnings:     []models.EarningRecord{},
						CreatedAt:    now,
					}
					created++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed roster: %w", err)
	}
	return created, nil
}

func (r *Registry) mutate(ctx context.Context, id string, fn func(models.Worker) models.Worker) error {
	err := r.store.Update(ctx, func(s *store.Snapshot) error {
		w, ok := s.Workers[id]
		if !ok {
			return fmt.Errorf("worker %s: %w", id, store.ErrNotFound)
		}
		s.Workers[id] = fn(w)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	return nil
}

func hasRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
