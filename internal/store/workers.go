package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/workhours"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ListWorkers returns every worker with online and work-hours flags derived at
// the current time. A worker is online when its last heartbeat is within
// liveness.
func (s *Store) ListWorkers(liveness time.Duration) []types.WorkerView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]types.WorkerView, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, types.WorkerView{
			Worker:          *w,
			Online:          now.Sub(w.LastHeartbeatAt) <= liveness,
			WithinWorkHours: workhours.Eligible(w.WorkHours, now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnlineWorkers counts workers that heartbeated within liveness.
func (s *Store) OnlineWorkers(liveness time.Duration) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, w := range s.workers {
		if now.Sub(w.LastHeartbeatAt) <= liveness {
			n++
		}
	}
	return n
}

// GetWorker returns one worker.
func (s *Store) GetWorker(id string) (types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]
	if !ok {
		return types.Worker{}, fmt.Errorf("%w: worker %s", ErrNotFound, id)
	}
	return *w, nil
}

// DeleteWorker forgets a worker. A worker that still holds an active job is
// refused with ErrConflict; cancelActive flags those jobs first.
func (s *Store) DeleteWorker(id string, cancelActive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return fmt.Errorf("%w: worker %s", ErrNotFound, id)
	}

	var active []string
	for _, j := range sortedByID(s.jobs) {
		if j.WorkerID == id && !j.Status.IsTerminal() {
			active = append(active, j.ID)
		}
	}
	if len(active) > 0 {
		if cancelActive {
			for _, jobID := range active {
				if err := s.flagCancelLocked(jobID); err != nil {
					return err
				}
			}
		}
		return fmt.Errorf("%w: worker %s holds active job %s", ErrConflict, id, active[0])
	}

	tx := s.begin()
	tx.deleteWorker(id)
	if err := tx.commit(); err != nil {
		return err
	}
	log.Info("Worker deleted", "workerID", id)
	return nil
}
