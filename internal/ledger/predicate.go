package ledger

import "dumpsite-dispatch/internal/models"

// Predicate selects jobs for ListBy. A nil Predicate matches everything.
type Predicate func(models.Job) bool

func WithStatus(status models.JobStatus) Predicate {
	return func(j models.Job) bool { return j.Status == status }
}

func InZone(zone string) Predicate {
	return func(j models.Job) bool { return j.Zone == zone }
}

func AssignedTo(workerID string) Predicate {
	return func(j models.Job) bool { return j.AssigneeID == workerID }
}

// All matches when every non-nil predicate matches.
func All(preds ...Predicate) Predicate {
	return func(j models.Job) bool {
		for _, p := range preds {
			if p != nil && !p(j) {
				return false
			}
		}
		return true
	}
}
