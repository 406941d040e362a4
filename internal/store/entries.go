package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// EntryPatch updates selected entry fields. Nil fields are left unchanged.
type EntryPatch struct {
	Name *string `json:"name"`
	Path *string `json:"path"`
	Args *string `json:"args"`
}

// AddEntry registers a root folder. The name defaults to the last path segment.
func (s *Store) AddEntry(path, name, args string) (types.Entry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return types.Entry{}, fmt.Errorf("%w: entry path is required", ErrValidation)
	}
	path = filepath.Clean(path)
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultEntryName(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Path == path {
			return types.Entry{}, fmt.Errorf("%w: entry %s already manages %s", ErrConflict, e.ID, path)
		}
	}

	now := s.now()
	entry := types.Entry{
		ID:        s.opts.NewID("ent"),
		Name:      name,
		Path:      path,
		Args:      strings.TrimSpace(args),
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx := s.begin()
	tx.putEntry(entry)
	if err := tx.commit(); err != nil {
		return types.Entry{}, err
	}
	log.Info("Entry added", "entryID", entry.ID, "path", entry.Path)
	return entry, nil
}

// UpdateEntry changes an entry's name, path or extra arguments.
func (s *Store) UpdateEntry(id string, patch EntryPatch) (types.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[id]
	if !ok {
		return types.Entry{}, fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}
	next := *cur
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return types.Entry{}, fmt.Errorf("%w: entry name cannot be empty", ErrValidation)
		}
		next.Name = name
	}
	if patch.Path != nil {
		path := strings.TrimSpace(*patch.Path)
		if path == "" {
			return types.Entry{}, fmt.Errorf("%w: entry path cannot be empty", ErrValidation)
		}
		path = filepath.Clean(path)
		for _, e := range s.entries {
			if e.ID != id && e.Path == path {
				return types.Entry{}, fmt.Errorf("%w: entry %s already manages %s", ErrConflict, e.ID, path)
			}
		}
		next.Path = path
	}
	if patch.Args != nil {
		next.Args = strings.TrimSpace(*patch.Args)
	}
	next.UpdatedAt = s.now()

	tx := s.begin()
	tx.putEntry(next)
	if err := tx.commit(); err != nil {
		return types.Entry{}, err
	}
	return next, nil
}

// DeleteEntry removes an entry and all of its items. Jobs stay as history.
// It refuses while any of the entry's items has an active job.
func (s *Store) DeleteEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}

	tx := s.begin()
	removed := 0
	for _, it := range sortedByID(s.items) {
		if it.EntryID != id {
			continue
		}
		if jobID, active := s.activeJobByItem[it.ID]; active {
			return fmt.Errorf("%w: item %s has active job %s", ErrConflict, it.ID, jobID)
		}
		tx.deleteItem(it.ID)
		removed++
	}
	tx.deleteEntry(id)
	if err := tx.commit(); err != nil {
		return err
	}
	log.Info("Entry deleted", "entryID", id, "items_removed", removed)
	return nil
}

// GetEntry returns one entry.
func (s *Store) GetEntry(id string) (types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return types.Entry{}, fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}
	return *e, nil
}

// ListEntries returns all entries ordered by name.
func (s *Store) ListEntries() []types.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func defaultEntryName(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return path
	}
	return base
}
