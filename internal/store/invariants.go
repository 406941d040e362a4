package store

import (
	"errors"
	"fmt"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// CheckInvariants verifies the cross-record rules of the state:
//
//   - an item is processing exactly when one non-terminal job references it
//   - no item has more than one non-terminal job
//   - item paths are unique
//   - every item belongs to an existing entry
//
// It returns every violation joined into one error, or nil.
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkInvariantsLocked()
}

func (s *Store) checkInvariantsLocked() error {
	var errs []error

	active := make(map[string][]string)
	for _, j := range sortedByID(s.jobs) {
		if !j.Status.IsTerminal() {
			active[j.ItemID] = append(active[j.ItemID], j.ID)
		}
	}
	for itemID, jobs := range active {
		if len(jobs) > 1 {
			errs = append(errs, fmt.Errorf("item %s has %d active jobs %v", itemID, len(jobs), jobs))
		}
		if _, ok := s.items[itemID]; !ok {
			errs = append(errs, fmt.Errorf("active job %s references missing item %s", jobs[0], itemID))
		}
	}

	paths := make(map[string]string, len(s.items))
	for _, it := range sortedByID(s.items) {
		processing := it.Status == types.ItemProcessing
		hasActive := len(active[it.ID]) > 0
		if processing != hasActive {
			errs = append(errs, fmt.Errorf("item %s status %s but active jobs %d", it.ID, it.Status, len(active[it.ID])))
		}
		if other, dup := paths[it.Path]; dup {
			errs = append(errs, fmt.Errorf("items %s and %s share path %s", other, it.ID, it.Path))
		}
		paths[it.Path] = it.ID
		if _, ok := s.entries[it.EntryID]; !ok {
			errs = append(errs, fmt.Errorf("item %s references missing entry %s", it.ID, it.EntryID))
		}
	}

	return errors.Join(errs...)
}
