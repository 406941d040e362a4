package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/ranking"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// Discovered is one file found by a scan.
type Discovered struct {
	Path        string
	SizeBytes   int64
	MTime       int64
	Fingerprint string

	// Info is the probed metadata. Nil means the file was not probed because
	// its fingerprint did not change.
	Info *types.MediaInfo
	// ProbeErr is the probe failure text when probing was attempted and failed.
	ProbeErr string
}

// ScanResult counts what a reconciliation changed.
type ScanResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Missing int `json:"missing"`
	Seen    int `json:"seen"`
	Skipped int `json:"skipped"`
}

// Item sort orders accepted by ListItems.
const (
	SortSavings = "savings"
	SortSize    = "size"
	SortPath    = "path"
)

// ItemFilter narrows ListItems.
type ItemFilter struct {
	EntryID string
	Status  types.ItemStatus
	Sort    string
}

// UpsertItemsFromScan reconciles discovered files with the items of an entry.
//
// Paths seen for the first time become idle items. Known items keep their
// ready flag, status and history; a changed fingerprint refreshes size and
// metadata and recomputes the ratio. Items of the entry that were not
// discovered are flagged missing, never deleted.
//
// known is the ItemFingerprints result the scan started from. An item whose
// fingerprint moved away from it was rewritten while the walk ran (a job
// completed or the path was re-pointed) and keeps its stored metadata, as do
// processing items. A nil known trusts every discovered file.
func (s *Store) UpsertItemsFromScan(entryID string, known map[string]string, discovered []Discovered) (ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return ScanResult{}, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}

	now := s.now()
	targets := s.config.TargetMbPerMinByHeight
	seen := make(map[string]bool, len(discovered))
	var res ScanResult
	tx := s.begin()

	for _, d := range discovered {
		if d.Path == "" {
			continue
		}
		path := filepath.Clean(d.Path)
		if seen[path] {
			continue
		}
		seen[path] = true
		res.Seen++

		id, exists := s.itemsByPath[path]
		if !exists {
			it := types.Item{
				ID:                s.opts.NewID("itm"),
				EntryID:           entryID,
				Path:              path,
				SizeBytes:         d.SizeBytes,
				MTime:             d.MTime,
				Status:            types.ItemIdle,
				SourceFingerprint: d.Fingerprint,
				ProbeError:        d.ProbeErr,
				ScanAt:            &now,
			}
			if d.Info != nil {
				it.MediaInfo = *d.Info
			}
			it.Ratio = ranking.ForItem(&it, targets)
			tx.putItem(it)
			res.Added++
			continue
		}

		cur := s.items[id]
		if cur.EntryID != entryID {
			// Nested entries: the file belongs to the entry that found it first.
			continue
		}
		if cur.Status == types.ItemProcessing || stale(known, path, cur) {
			res.Skipped++
			continue
		}
		next := *cur
		changed := false
		if next.Missing {
			next.Missing = false
			changed = true
		}
		if d.Fingerprint != cur.SourceFingerprint || d.Info != nil {
			next.SizeBytes = d.SizeBytes
			next.MTime = d.MTime
			next.SourceFingerprint = d.Fingerprint
			if d.Info != nil {
				next.MediaInfo = *d.Info
			}
			next.ProbeError = d.ProbeErr
			next.Ratio = ranking.ForItem(&next, targets)
			next.ScanAt = &now
			changed = true
		}
		if changed {
			tx.putItem(next)
			res.Updated++
		}
	}

	for _, it := range sortedByID(s.items) {
		if it.EntryID != entryID || seen[it.Path] || it.Missing {
			continue
		}
		if it.Status == types.ItemProcessing || stale(known, it.Path, it) {
			continue
		}
		next := *it
		next.Missing = true
		tx.putItem(next)
		res.Missing++
	}

	e := *entry
	e.LastScanAt = &now
	e.UpdatedAt = now
	tx.putEntry(e)

	if err := tx.commit(); err != nil {
		return ScanResult{}, err
	}
	log.Info("Scan reconciled",
		"entryID", entryID,
		"seen", res.Seen,
		"added", res.Added,
		"updated", res.Updated,
		"missing", res.Missing,
		"skipped", res.Skipped)
	return res, nil
}

// stale reports whether it changed since the scan read known.
func stale(known map[string]string, path string, it *types.Item) bool {
	if known == nil {
		return false
	}
	fp, ok := known[path]
	return !ok || fp != it.SourceFingerprint
}

// ItemFingerprints returns path -> fingerprint for an entry's items.
func (s *Store) ItemFingerprints(entryID string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for _, it := range s.items {
		if it.EntryID == entryID {
			out[it.Path] = it.SourceFingerprint
		}
	}
	return out
}

// GetItem returns one item.
func (s *Store) GetItem(id string) (types.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return types.Item{}, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	return *it, nil
}

// ListItems returns items matching filter, ranked by savings unless another
// sort is requested.
func (s *Store) ListItems(filter ItemFilter) ([]types.Item, error) {
	var less func(a, b *types.Item) bool
	switch filter.Sort {
	case "", SortSavings:
		less = ranking.Less
	case SortSize:
		less = func(a, b *types.Item) bool {
			if a.SizeBytes != b.SizeBytes {
				return a.SizeBytes > b.SizeBytes
			}
			return a.ID < b.ID
		}
	case SortPath:
		less = func(a, b *types.Item) bool { return a.Path < b.Path }
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", ErrValidation, filter.Sort)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Item, 0, len(s.items))
	for _, it := range s.items {
		if filter.EntryID != "" && it.EntryID != filter.EntryID {
			continue
		}
		if filter.Status != "" && it.Status != filter.Status {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out, nil
}

// SetReady opts an item in or out of claiming. Refused while processing.
//
// ready=true sets status ready. ready=false moves a ready item back to idle and
// leaves done or failed items as they are.
func (s *Store) SetReady(id string, ready bool) (types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return types.Item{}, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	if cur.Status == types.ItemProcessing {
		return types.Item{}, fmt.Errorf("%w: item %s is processing", ErrInvalidState, id)
	}

	next := *cur
	next.Ready = ready
	switch {
	case ready:
		next.Status = types.ItemReady
	case cur.Status == types.ItemReady:
		next.Status = types.ItemIdle
	}

	tx := s.begin()
	tx.putItem(next)
	if err := tx.commit(); err != nil {
		return types.Item{}, err
	}
	return next, nil
}

// ResetItem clears lastError and puts the item back to ready (if flagged) or
// idle. Refused while an active job references the item.
func (s *Store) ResetItem(id string) (types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return types.Item{}, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	if jobID, active := s.activeJobByItem[id]; active {
		return types.Item{}, fmt.Errorf("%w: item %s has active job %s", ErrConflict, id, jobID)
	}

	next := *cur
	next.LastError = ""
	if next.Ready {
		next.Status = types.ItemReady
	} else {
		next.Status = types.ItemIdle
	}

	tx := s.begin()
	tx.putItem(next)
	if err := tx.commit(); err != nil {
		return types.Item{}, err
	}
	return next, nil
}

// SetItemPath re-points an item after the file was moved outside the system.
func (s *Store) SetItemPath(id, path string) (types.Item, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return types.Item{}, fmt.Errorf("%w: item path is required", ErrValidation)
	}
	path = filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return types.Item{}, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	if cur.Status == types.ItemProcessing {
		return types.Item{}, fmt.Errorf("%w: item %s is processing", ErrInvalidState, id)
	}
	if other, taken := s.itemsByPath[path]; taken && other != id {
		return types.Item{}, fmt.Errorf("%w: path already belongs to item %s", ErrConflict, other)
	}

	next := *cur
	next.Path = path
	next.Missing = false

	tx := s.begin()
	tx.putItem(next)
	if err := tx.commit(); err != nil {
		return types.Item{}, err
	}
	return next, nil
}

// DeleteItem removes an item. With an active job it fails with ErrConflict;
// cancelActive additionally flags that job for cancellation in the same step.
func (s *Store) DeleteItem(id string, cancelActive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	if jobID, active := s.activeJobByItem[id]; active {
		if cancelActive {
			if err := s.flagCancelLocked(jobID); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: item %s has active job %s", ErrConflict, id, jobID)
	}

	tx := s.begin()
	tx.deleteItem(id)
	return tx.commit()
}

// ItemCounts returns the number of items per status.
func (s *Store) ItemCounts() map[types.ItemStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.ItemStatus]int)
	for _, it := range s.items {
		out[it.Status]++
	}
	return out
}
