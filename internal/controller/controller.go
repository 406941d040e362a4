// ============================================================================
// Spacesaver Controller - server-side coordinator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: own the state store and everything that runs beside it on the
//          server: the claim/progress protocol, scans, retention and metrics.
//
// Components:
//   - Store:   canonical state, WAL + snapshot persistence (internal/store)
//   - Archive: SQLite table of archived terminal jobs (internal/archive)
//   - Scanner: folder walk + ffprobe (internal/scanner, internal/probe)
//   - Metrics: Prometheus collector on the controller's registry
//   - Cron:    scheduled scans, archival and gauge refresh (robfig/cron)
//
// Recovery:
//   New takes the data dir lock, then store.Open loads the snapshot and
//   replays the WAL. Jobs that were active at the crash stay active; nothing
//   is requeued. An operator cancels or deletes them.
//
// Concurrency:
//   Every state change goes through the store's single lock. The controller
//   only adds work done outside that lock: stat + probe before Complete,
//   filesystem walks before UpsertItemsFromScan, SQLite writes before
//   PurgeJobs. One scan runs at a time.
//
// Shutdown (Stop):
//   1. stop cron and wait for running jobs
//   2. cancel background scans and wait for them
//   3. close the store (final snapshot) and the archive
//   4. release the data dir lock
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/archive"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/metrics"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/probe"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/scanner"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/workhours"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

// File names inside the data dir.
const (
	SnapshotFile = "state.json"
	WALFile      = "state.wal"
	ArchiveFile  = "archive.db"
	LockFile     = "server.lock"
)

const gaugeSchedule = "@every 15s"

var (
	// ErrDataDirLocked means another server already owns the data dir.
	ErrDataDirLocked = errors.New("data dir is locked by another server")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("controller stopped")
)

// ============================================================================
// Types
// ============================================================================

// Config configures a Controller.
type Config struct {
	DataDir         string        // state.json, state.wal, archive.db, server.lock
	Liveness        time.Duration // heartbeat age under which a worker is online
	CompactEvery    int           // journal events between snapshots
	ScanSchedule    string        // cron spec for scanning every entry, empty disables
	ArchiveSchedule string        // cron spec for archival, empty disables
	ArchiveMaxAge   time.Duration // archive terminal jobs finished before now-maxAge
	ArchiveKeep     int           // always keep the newest N terminal jobs
	ScanConcurrency int           // files probed in parallel
	FFprobePath     string        // used when the stored config has no ffprobe path

	Registry *prometheus.Registry // nil creates a private registry
	Prober   scanner.Prober       // nil probes with ffprobe
	Now      func() time.Time     // nil uses time.Now
}

// Status is a summary of the server state.
type Status struct {
	Uptime        string                   `json:"uptime"`
	Items         map[types.ItemStatus]int `json:"items"`
	ActiveJobs    int                      `json:"activeJobs"`
	WorkersOnline int                      `json:"workersOnline"`
	Scan          types.ScanStatus         `json:"scan"`
}

// Diagnostics reports the server's external tool setup.
type Diagnostics struct {
	DataDir      string `json:"dataDir"`
	FFprobePath  string `json:"ffprobePath"`
	FFprobeFound bool   `json:"ffprobeFound"`
}

// Controller coordinates the store with scans, retention and metrics.
type Controller struct {
	store    *store.Store
	archive  *archive.Archive
	metrics  *metrics.Collector
	registry *prometheus.Registry
	gate     *workhours.Gate
	cron     *cron.Cron
	lock     *flock.Flock
	config   Config

	scanMu sync.Mutex
	scan   types.ScanStatus
	scanWg sync.WaitGroup

	ctx    context.Context // cancelled by Stop, parent of background scans
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time
}

// ============================================================================
// Lifecycle
// ============================================================================

// New locks the data dir, recovers state and opens the archive.
func New(config Config) (*Controller, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", store.ErrValidation)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Liveness <= 0 {
		config.Liveness = 60 * time.Second
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(config.DataDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, config.DataDir)
	}

	collector := metrics.NewCollector(config.Registry)

	start := time.Now()
	st, err := store.Open(store.Options{
		SnapshotPath: filepath.Join(config.DataDir, SnapshotFile),
		WALPath:      filepath.Join(config.DataDir, WALFile),
		CompactEvery: config.CompactEvery,
		SyncOnAppend: true,
		Now:          config.Now,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("recover state: %w", err)
	}
	collector.SetRecoveryTime(time.Since(start))

	arch, err := archive.Open(filepath.Join(config.DataDir, ArchiveFile))
	if err != nil {
		_ = st.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:    st,
		archive:  arch,
		metrics:  collector,
		registry: config.Registry,
		gate:     &workhours.Gate{Now: config.Now},
		lock:     lock,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.refreshGauges()
	return c, nil
}

// Start schedules the periodic jobs.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sched.AddFunc(gaugeSchedule, c.refreshGauges); err != nil {
		return fmt.Errorf("schedule gauges: %w", err)
	}
	if c.config.ScanSchedule != "" {
		if _, err := sched.AddFunc(c.config.ScanSchedule, func() {
			if err := c.ScanAll(c.ctx); err != nil {
				log.Error("Scheduled scan failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("%w: scan schedule %q: %v", store.ErrValidation, c.config.ScanSchedule, err)
		}
	}
	if c.config.ArchiveSchedule != "" {
		if _, err := sched.AddFunc(c.config.ArchiveSchedule, func() {
			if _, err := c.ArchiveJobs(c.ctx, c.config.ArchiveMaxAge, c.config.ArchiveKeep); err != nil {
				log.Error("Scheduled archival failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("%w: archive schedule %q: %v", store.ErrValidation, c.config.ArchiveSchedule, err)
		}
	}
	sched.Start()

	c.cron = sched
	c.started = true
	c.startTime = c.config.Now()
	log.Info("Controller started",
		"data_dir", c.config.DataDir,
		"scan_schedule", c.config.ScanSchedule,
		"archive_schedule", c.config.ArchiveSchedule)
	return nil
}

// Stop shuts the controller down. It is safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	sched := c.cron
	c.mu.Unlock()

	log.Info("Stopping controller...")

	if sched != nil {
		<-sched.Stop().Done()
	}
	c.cancel()
	c.scanWg.Wait()

	if err := c.store.Close(); err != nil {
		log.Error("Failed to close store", "error", err)
	}
	if err := c.archive.Close(); err != nil {
		log.Error("Failed to close archive", "error", err)
	}
	if err := c.lock.Unlock(); err != nil {
		log.Error("Failed to release data dir lock", "error", err)
	}
	log.Info("Controller stopped")
}

// Store exposes the state store for operator CRUD.
func (c *Controller) Store() *store.Store { return c.store }

// Gatherer returns the registry the controller's metrics live on.
func (c *Controller) Gatherer() prometheus.Gatherer { return c.registry }

// Liveness is the heartbeat age under which a worker counts as online.
func (c *Controller) Liveness() time.Duration { return c.config.Liveness }

// Retention returns the configured archival max age and keep count.
func (c *Controller) Retention() (time.Duration, int) {
	return c.config.ArchiveMaxAge, c.config.ArchiveKeep
}

// Status summarizes the state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	startTime := c.startTime
	c.mu.Unlock()

	st := Status{
		Items:         c.store.ItemCounts(),
		WorkersOnline: c.store.OnlineWorkers(c.config.Liveness),
		Scan:          c.ScanStatus(),
	}
	if !startTime.IsZero() {
		st.Uptime = c.config.Now().Sub(startTime).Round(time.Second).String()
	}
	for _, j := range c.store.ListJobs() {
		if !j.Status.IsTerminal() {
			st.ActiveJobs++
		}
	}
	return st
}

// Diagnostics reports whether ffprobe can be found.
func (c *Controller) Diagnostics() Diagnostics {
	path, found := probe.Resolve(c.ffprobePath())
	return Diagnostics{DataDir: c.config.DataDir, FFprobePath: path, FFprobeFound: found}
}

func (c *Controller) refreshGauges() {
	c.metrics.UpdateItemCounts(c.store.ItemCounts())
	c.metrics.SetWorkersOnline(c.store.OnlineWorkers(c.config.Liveness))
}

func (c *Controller) ffprobePath() string {
	if p := c.store.Config().FFprobePath; p != "" {
		return p
	}
	return c.config.FFprobePath
}

func (c *Controller) prober() scanner.Prober {
	if c.config.Prober != nil {
		return c.config.Prober
	}
	return probe.New(c.ffprobePath())
}
