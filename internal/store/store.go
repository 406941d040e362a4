// ============================================================================
// State Store
// ============================================================================
//
// Package: internal/store
// Purpose: single source of truth for entries, items, jobs and workers.
//
// Design:
//   Every entity lives in a map keyed by id and is only replaced, never
//   mutated in place. A mutating operation runs under one write lock:
//     1. validate against the current maps
//     2. stage new copies of the touched records in a txn
//     3. append the txn to the WAL (one line, fsynced)
//     4. install the staged copies
//   If step 3 fails nothing is installed, so every operation either fully
//   applies or fully rejects.
//
// Indexes:
//   itemsByPath     path -> item id (scan reconciliation)
//   activeJobByItem item id -> non-terminal job id (claim eligibility)
//
// Recovery:
//   Open loads the snapshot, then replays the WAL on top of it. Replay is
//   idempotent (puts and deletes of whole records), so a crash between a
//   snapshot write and the WAL rotate is harmless.
//
// Compaction:
//   After CompactEvery events the store writes a snapshot and rotates the WAL
//   inline, inside the same critical section. There is no background loop.
//
// ============================================================================

package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/snapshot"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/storage/wal"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

const configKey = "config"

// Options configures a Store.
type Options struct {
	SnapshotPath string // state document; empty keeps the store in memory
	WALPath      string // journal; empty keeps the store in memory
	CompactEvery int    // journal events between snapshots, 0 disables
	SyncOnAppend bool   // fsync every journal append

	Now   func() time.Time           // clock, defaults to time.Now
	NewID func(prefix string) string // id generator, defaults to NewID
}

// Store owns all state. The zero value is not usable; call New or Open.
type Store struct {
	mu sync.RWMutex

	config  types.Config
	entries map[string]*types.Entry
	items   map[string]*types.Item
	jobs    map[string]*types.Job
	workers map[string]*types.Worker

	itemsByPath     map[string]string
	activeJobByItem map[string]string

	wal  *wal.WAL
	snap *snapshot.Manager
	opts Options

	closed bool
}

// NewID returns "<prefix>_" followed by ten hex characters of a random UUID.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:10]
}

// New returns an empty in-memory store with the default config.
func New(opts Options) *Store {
	s := newStore(opts)
	s.restore(snapshot.Empty())
	return s
}

// Open loads the snapshot, replays the WAL and returns a persistent store.
func Open(opts Options) (*Store, error) {
	if opts.SnapshotPath == "" || opts.WALPath == "" {
		return nil, fmt.Errorf("%w: snapshot and wal paths are required", ErrValidation)
	}
	start := time.Now()
	s := newStore(opts)
	s.snap = snapshot.NewManager(opts.SnapshotPath)

	doc, err := s.snap.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	s.restore(doc)

	w, err := wal.NewWAL(opts.WALPath, opts.SyncOnAppend)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	replayed := 0
	err = w.Replay(func(event wal.Event) error {
		replayed++
		for _, c := range event.Changes {
			if err := s.applyChange(c); err != nil {
				return fmt.Errorf("replay seq=%d: %w", event.Seq, err)
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	s.wal = w

	if err := s.CheckInvariants(); err != nil {
		log.Warn("State invariants violated after recovery", "error", err)
	}

	log.Info("State recovered",
		"duration", time.Since(start),
		"entries", len(s.entries),
		"items", len(s.items),
		"jobs", len(s.jobs),
		"workers", len(s.workers),
		"replayed_events", replayed)
	return s, nil
}

func newStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewID
	}
	return &Store{
		entries:         make(map[string]*types.Entry),
		items:           make(map[string]*types.Item),
		jobs:            make(map[string]*types.Job),
		workers:         make(map[string]*types.Worker),
		itemsByPath:     make(map[string]string),
		activeJobByItem: make(map[string]string),
		opts:            opts,
	}
}

// Close writes a final snapshot and closes the WAL.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.wal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		log.Error("Final snapshot failed", "error", err)
	}
	return s.wal.Close()
}

// Snapshot forces a snapshot and WAL rotation.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}
	return s.compactLocked()
}

// Document returns a copy of the whole state in its persisted shape.
func (s *Store) Document() types.StateDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentLocked()
}

func (s *Store) now() time.Time {
	return s.opts.Now()
}

// ============================================================================
// Transactions
// ============================================================================

type txn struct {
	s        *Store
	changes  []wal.Change
	installs []func()
	err      error
}

func (s *Store) begin() *txn {
	return &txn{s: s}
}

func (t *txn) put(kind wal.Kind, key string, v any, install func()) {
	if t.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.err = fmt.Errorf("encode %s %s: %w", kind, key, err)
		return
	}
	t.changes = append(t.changes, wal.Change{Op: wal.OpPut, Kind: kind, Key: key, Data: data})
	t.installs = append(t.installs, install)
}

func (t *txn) del(kind wal.Kind, key string, install func()) {
	if t.err != nil {
		return
	}
	t.changes = append(t.changes, wal.Change{Op: wal.OpDelete, Kind: kind, Key: key})
	t.installs = append(t.installs, install)
}

func (t *txn) putConfig(cfg types.Config) {
	t.put(wal.KindConfig, configKey, cfg, func() { t.s.config = cfg })
}

func (t *txn) putEntry(e types.Entry) {
	t.put(wal.KindEntry, e.ID, e, func() { t.s.installEntry(e) })
}

func (t *txn) putItem(it types.Item) {
	t.put(wal.KindItem, it.ID, it, func() { t.s.installItem(it) })
}

func (t *txn) putJob(j types.Job) {
	t.put(wal.KindJob, j.ID, j, func() { t.s.installJob(j) })
}

func (t *txn) putWorker(w types.Worker) {
	t.put(wal.KindWorker, w.ID, w, func() { t.s.installWorker(w) })
}

func (t *txn) deleteEntry(id string) {
	t.del(wal.KindEntry, id, func() { t.s.removeEntry(id) })
}

func (t *txn) deleteItem(id string) {
	t.del(wal.KindItem, id, func() { t.s.removeItem(id) })
}

func (t *txn) deleteJob(id string) {
	t.del(wal.KindJob, id, func() { t.s.removeJob(id) })
}

func (t *txn) deleteWorker(id string) {
	t.del(wal.KindWorker, id, func() { t.s.removeWorker(id) })
}

// commit journals the staged changes and installs them. Caller holds s.mu.
func (t *txn) commit() error {
	if t.err != nil {
		return t.err
	}
	if len(t.changes) == 0 {
		return nil
	}
	if t.s.closed {
		return fmt.Errorf("store is closed")
	}
	if t.s.wal != nil {
		if _, err := t.s.wal.Append(t.changes); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}
	for _, install := range t.installs {
		install()
	}
	t.s.maybeCompactLocked()
	return nil
}

// ============================================================================
// Install / remove (the only code that touches the maps)
// ============================================================================

func (s *Store) installEntry(e types.Entry) {
	s.entries[e.ID] = &e
}

func (s *Store) removeEntry(id string) {
	delete(s.entries, id)
}

func (s *Store) installItem(it types.Item) {
	if old, ok := s.items[it.ID]; ok && old.Path != it.Path {
		if s.itemsByPath[old.Path] == it.ID {
			delete(s.itemsByPath, old.Path)
		}
	}
	s.items[it.ID] = &it
	s.itemsByPath[it.Path] = it.ID
}

func (s *Store) removeItem(id string) {
	if old, ok := s.items[id]; ok {
		if s.itemsByPath[old.Path] == id {
			delete(s.itemsByPath, old.Path)
		}
	}
	delete(s.items, id)
}

func (s *Store) installJob(j types.Job) {
	s.jobs[j.ID] = &j
	if !j.Status.IsTerminal() {
		s.activeJobByItem[j.ItemID] = j.ID
	} else if s.activeJobByItem[j.ItemID] == j.ID {
		delete(s.activeJobByItem, j.ItemID)
	}
}

func (s *Store) removeJob(id string) {
	if old, ok := s.jobs[id]; ok && s.activeJobByItem[old.ItemID] == id {
		delete(s.activeJobByItem, old.ItemID)
	}
	delete(s.jobs, id)
}

func (s *Store) installWorker(w types.Worker) {
	s.workers[w.ID] = &w
}

func (s *Store) removeWorker(id string) {
	delete(s.workers, id)
}

func (s *Store) applyChange(c wal.Change) error {
	if c.Op == wal.OpDelete {
		switch c.Kind {
		case wal.KindEntry:
			s.removeEntry(c.Key)
		case wal.KindItem:
			s.removeItem(c.Key)
		case wal.KindJob:
			s.removeJob(c.Key)
		case wal.KindWorker:
			s.removeWorker(c.Key)
		default:
			return fmt.Errorf("unknown kind %q", c.Kind)
		}
		return nil
	}
	if c.Op != wal.OpPut {
		return fmt.Errorf("unknown op %q", c.Op)
	}

	switch c.Kind {
	case wal.KindConfig:
		var cfg types.Config
		if err := json.Unmarshal(c.Data, &cfg); err != nil {
			return err
		}
		s.config = cfg
	case wal.KindEntry:
		var e types.Entry
		if err := json.Unmarshal(c.Data, &e); err != nil {
			return err
		}
		s.installEntry(e)
	case wal.KindItem:
		var it types.Item
		if err := json.Unmarshal(c.Data, &it); err != nil {
			return err
		}
		s.installItem(it)
	case wal.KindJob:
		var j types.Job
		if err := json.Unmarshal(c.Data, &j); err != nil {
			return err
		}
		s.installJob(j)
	case wal.KindWorker:
		var w types.Worker
		if err := json.Unmarshal(c.Data, &w); err != nil {
			return err
		}
		s.installWorker(w)
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	return nil
}

// ============================================================================
// Snapshot / restore
// ============================================================================

func (s *Store) restore(doc types.StateDocument) {
	s.config = cloneConfig(doc.Config)
	for _, e := range doc.Entries {
		s.installEntry(e)
	}
	for _, it := range doc.Items {
		s.installItem(it)
	}
	for _, j := range doc.Jobs {
		s.installJob(j)
	}
	for _, w := range doc.Workers {
		s.installWorker(w)
	}
}

func (s *Store) documentLocked() types.StateDocument {
	doc := types.StateDocument{
		Version: types.StateVersion,
		Config:  cloneConfig(s.config),
		Entries: make([]types.Entry, 0, len(s.entries)),
		Items:   make([]types.Item, 0, len(s.items)),
		Jobs:    make([]types.Job, 0, len(s.jobs)),
		Workers: make([]types.Worker, 0, len(s.workers)),
	}
	for _, e := range sortedByID(s.entries) {
		doc.Entries = append(doc.Entries, *e)
	}
	for _, it := range sortedByID(s.items) {
		doc.Items = append(doc.Items, *it)
	}
	for _, j := range sortedByID(s.jobs) {
		doc.Jobs = append(doc.Jobs, *j)
	}
	for _, w := range sortedByID(s.workers) {
		doc.Workers = append(doc.Workers, *w)
	}
	return doc
}

func (s *Store) maybeCompactLocked() {
	if s.wal == nil || s.opts.CompactEvery <= 0 || s.wal.Count() < s.opts.CompactEvery {
		return
	}
	if err := s.compactLocked(); err != nil {
		log.Error("Compaction failed, WAL keeps growing", "error", err)
	}
}

func (s *Store) compactLocked() error {
	start := time.Now()
	if err := s.snap.Write(s.documentLocked()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := s.wal.Rotate(); err != nil {
		return fmt.Errorf("rotate wal: %w", err)
	}
	log.Debug("Snapshot written", "duration", time.Since(start), "items", len(s.items), "jobs", len(s.jobs))
	return nil
}

func cloneConfig(cfg types.Config) types.Config {
	out := cfg
	out.TargetMbPerMinByHeight = make(map[int]float64, len(cfg.TargetMbPerMinByHeight))
	for k, v := range cfg.TargetMbPerMinByHeight {
		out.TargetMbPerMinByHeight[k] = v
	}
	out.TargetSamplesByHeight = make(map[int][]float64, len(cfg.TargetSamplesByHeight))
	for k, v := range cfg.TargetSamplesByHeight {
		out.TargetSamplesByHeight[k] = append([]float64(nil), v...)
	}
	return out
}
