package snapshot

// ============================================================================
// Responsibilities:
// 1. Serialize the full state document to a JSON snapshot file
// 2. Write atomically (temp file + fsync + rename) so a crash never leaves a torn snapshot
// 3. Validate the document version on load
// 4. Together with the WAL, rebuild state on restart
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// Manager reads and writes the state document.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager returns a manager for the snapshot at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write atomically replaces the snapshot with doc.
//
// The document is written to <path>.tmp, fsynced, then renamed over path.
// Version is always stamped with types.StateVersion.
func (m *Manager) Write(doc types.StateDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc.Version = types.StateVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	syncDir(filepath.Dir(m.path))
	return nil
}

// Load reads the snapshot.
//
// A missing file yields an empty document with the default config (first start).
// Any version other than types.StateVersion is ErrIncompatibleVersion.
func (m *Manager) Load() (types.StateDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return types.StateDocument{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return types.StateDocument{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if probe.Version == nil {
		return types.StateDocument{}, fmt.Errorf("%w: missing version", ErrIncompatibleVersion)
	}
	if *probe.Version != types.StateVersion {
		return types.StateDocument{}, fmt.Errorf("%w: got %d, want %d",
			ErrIncompatibleVersion, *probe.Version, types.StateVersion)
	}

	var doc types.StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.StateDocument{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	fillDefaults(&doc.Config)
	return doc, nil
}

// Exists reports whether a snapshot file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the snapshot path.
func (m *Manager) GetPath() string {
	return m.path
}

// Empty returns the document of a fresh installation.
func Empty() types.StateDocument {
	return types.StateDocument{
		Version: types.StateVersion,
		Config:  types.DefaultConfig(),
	}
}

// fillDefaults backfills config keys added after a document was written.
func fillDefaults(cfg *types.Config) {
	def := types.DefaultConfig()
	if cfg.BaselineArgs == "" {
		cfg.BaselineArgs = def.BaselineArgs
	}
	if cfg.TargetMbPerMinByHeight == nil {
		cfg.TargetMbPerMinByHeight = def.TargetMbPerMinByHeight
	}
	if cfg.TargetSamplesByHeight == nil {
		cfg.TargetSamplesByHeight = def.TargetSamplesByHeight
	}
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
