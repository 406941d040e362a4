// ============================================================================
// Spacesaver Worker - poll loop
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Purpose: the long-running loop of a worker process.
//
// Loop:
//   ┌──────────────────────────────────────────────┐
//   │ lock cache dir, remove stale slots            │
//   │ heartbeat goroutine (every HeartbeatInterval) │
//   │ for ctx not done:                             │
//   │   ├─ outside local work hours → sleep         │
//   │   ├─ Claim                                    │
//   │   │    ├─ assignment → run coordinator        │
//   │   │    └─ none / error → sleep PollInterval   │
//   │   └─ after a job, claim again right away      │
//   └──────────────────────────────────────────────┘
//
// One job at a time per cache dir. The server re-checks the work hours at
// claim time against the windows published by the heartbeat, so a clock
// skew between hosts can only cause an extra "off hours" answer.
//
// Shutdown:
//   Cancelling ctx stops the loop. A job that is running fails with
//   "cancelled: worker shutting down" and its cache slot is removed.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/transcode"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/workhours"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

// LockFile is created in the cache dir and held while the worker runs.
const LockFile = ".worker.lock"

var (
	// ErrCacheLocked means another worker already uses the cache dir.
	ErrCacheLocked = errors.New("cache dir is locked by another worker")
)

// Config configures a Worker.
type Config struct {
	ID                string
	Name              string
	CacheDir          string
	WorkHours         []types.WorkWindow
	PollInterval      time.Duration // default 10s
	HeartbeatInterval time.Duration // default 15s
	CancelPoll        time.Duration // default 2s
	Now               func() time.Time
}

// Worker claims jobs from a JobSource and runs them one at a time.
type Worker struct {
	source JobSource
	coord  *transcode.Coordinator
	gate   *workhours.Gate
	config Config

	mu      sync.Mutex
	current string // running job id
}

// New returns a worker. prober may be nil, which skips the truncation check.
func New(source JobSource, encoder transcode.Encoder, prober transcode.Prober, config Config) (*Worker, error) {
	if config.ID == "" {
		return nil, errors.New("worker id is required")
	}
	if config.CacheDir == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := workhours.Validate(config.WorkHours); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = config.ID
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	w := &Worker{
		source: source,
		gate:   &workhours.Gate{Now: config.Now},
		config: config,
	}
	w.coord = transcode.NewCoordinator(source, encoder, prober, transcode.Options{
		CacheDir:   config.CacheDir,
		CancelPoll: config.CancelPoll,
		Now:        config.Now,
	})
	w.coord.OnProgress = func(jobID string, pct float64, message string) {
		log.Debug("Job progress", "jobID", jobID, "pct", pct, "message", message)
	}
	return w, nil
}

// CurrentJob returns the id of the running job, or "".
func (w *Worker) CurrentJob() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run loops until ctx is cancelled. It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	unlock, err := w.lockCache()
	if err != nil {
		return err
	}
	defer unlock()

	if err := w.coord.CleanCache(); err != nil {
		return fmt.Errorf("clean cache: %w", err)
	}

	log.Info("Worker started",
		"workerID", w.config.ID,
		"name", w.config.Name,
		"cache_dir", w.config.CacheDir,
		"work_hours", len(w.config.WorkHours))

	w.heartbeat(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()
	defer wg.Wait()

	for {
		ran, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Info("Worker stopped", "workerID", w.config.ID)
			return nil
		}
		if err != nil {
			log.Warn("Claim failed", "workerID", w.config.ID, "error", err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("Worker stopped", "workerID", w.config.ID)
			return nil
		case <-time.After(w.config.PollInterval):
		}
	}
}

// RunOnce claims at most one job and runs it. It reports whether a job ran.
// The job's own failure is reported to the source, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if !w.gate.Eligible(w.config.WorkHours) {
		log.Debug("Outside work hours", "workerID", w.config.ID)
		return false, nil
	}

	resp, err := w.source.Claim(ctx, types.ClaimRequest{WorkerID: w.config.ID, WorkerName: w.config.Name})
	if err != nil {
		return false, err
	}
	if resp.Assignment == nil {
		log.Debug("No job", "workerID", w.config.ID, "reason", resp.Reason)
		return false, nil
	}

	a := *resp.Assignment
	w.setCurrent(a.Job.ID)
	defer w.setCurrent("")

	log.Info("Running job", "jobID", a.Job.ID, "path", a.Item.Path, "args", a.Args)
	if _, err := w.coord.Run(ctx, a); err != nil {
		log.Warn("Job ended with failure", "jobID", a.Job.ID, "error", err)
	}
	return true, nil
}

func (w *Worker) setCurrent(jobID string) {
	w.mu.Lock()
	w.current = jobID
	w.mu.Unlock()
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.heartbeat(ctx)
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	// An empty, non-nil list clears windows stored by an older config.
	hours := w.config.WorkHours
	if hours == nil {
		hours = []types.WorkWindow{}
	}
	err := w.source.Heartbeat(ctx, types.HeartbeatRequest{
		WorkerID:   w.config.ID,
		WorkerName: w.config.Name,
		WorkHours:  hours,
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("Heartbeat failed", "workerID", w.config.ID, "error", err)
	}
}

func (w *Worker) lockCache() (func(), error) {
	if err := os.MkdirAll(w.config.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	lock := flock.New(filepath.Join(w.config.CacheDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock cache dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrCacheLocked, w.config.CacheDir)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			log.Error("Failed to release cache lock", "error", err)
		}
	}, nil
}
