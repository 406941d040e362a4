// ============================================================================
// Transcode Workflow Coordinator
// ============================================================================
//
// Package: internal/transcode
// Purpose: run one claimed job on a worker.
//
//   copy-in -> transcode -> verify -> copy-back -> finalize
//
// Every job gets a private cache slot <cacheDir>/<jobID>/ that is removed on
// every exit path. The original file is only ever replaced by a rename of a
// fully written temp file beside it, so a failure at any step leaves it as it
// was.
//
// Cancellation is cooperative: the job's cancel flag is polled every
// CancelPoll and read from every progress ack. A positive flag cancels the
// job context, which stops the copy or the encoder process.
//
// ============================================================================

package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/fileutil"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

// Progress markers reported between steps.
const (
	pctCopyIn   = 5
	pctEncode   = 15
	pctCopyBack = 85
	pctDone     = 100
)

// Truncation check: output must last at least minDurationRatio of the source
// minus durationSlackSec.
const (
	minDurationRatio = 0.98
	durationSlackSec = 2.0
)

// reportTimeout bounds the final complete/fail call after shutdown.
const reportTimeout = 10 * time.Second

// Reporter is the part of the claim protocol a running job talks to.
type Reporter interface {
	ReportProgress(ctx context.Context, req types.ProgressRequest) (types.ProgressResponse, error)
	GetJob(ctx context.Context, jobID string) (types.Job, error)
	Complete(ctx context.Context, req types.CompleteRequest) error
	Fail(ctx context.Context, req types.FailRequest) error
}

// Prober reads the duration of media files for the truncation check.
type Prober interface {
	Probe(ctx context.Context, path string) (types.MediaInfo, error)
}

// Options configures a Coordinator.
type Options struct {
	CacheDir   string
	CancelPoll time.Duration // default 2s

	// ReportEvery and ReportBurst bound the progress report rate.
	ReportEvery time.Duration // default 500ms
	ReportBurst int           // default 4

	Now func() time.Time
}

// Coordinator runs claimed jobs one at a time.
type Coordinator struct {
	reporter Reporter
	encoder  Encoder
	prober   Prober // optional
	opts     Options

	// OnProgress, when set, sees every progress value the job reports.
	OnProgress func(jobID string, pct float64, message string)
}

// Result describes a job that completed.
type Result struct {
	OutputSize int64
	Duration   time.Duration
}

// NewCoordinator returns a coordinator. prober may be nil, which skips the
// duration part of verification.
func NewCoordinator(reporter Reporter, encoder Encoder, prober Prober, opts Options) *Coordinator {
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = 2 * time.Second
	}
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = 500 * time.Millisecond
	}
	if opts.ReportBurst <= 0 {
		opts.ReportBurst = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{reporter: reporter, encoder: encoder, prober: prober, opts: opts}
}

// CleanCache removes slots left behind by a previous process. Call it only
// while holding the cache directory lock.
func (c *Coordinator) CleanCache() error {
	entries, err := os.ReadDir(c.opts.CacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(c.opts.CacheDir, e.Name())
		log.Info("Removing stale cache slot", "path", path)
		if err := fileutil.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the whole workflow for a and reports the outcome with Complete
// or Fail. The returned error is the failure that was reported.
func (c *Coordinator) Run(ctx context.Context, a types.Assignment) (Result, error) {
	start := c.opts.Now()
	jobID := a.Job.ID
	logger := log.With("jobID", jobID, "itemID", a.Item.ID, "path", a.Item.Path)

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopWatch := c.watchCancel(jobCtx, jobID, cancel)
	defer stopWatch()

	size, err := c.run(jobCtx, a, cancel, logger)
	if err != nil {
		err = c.classify(ctx, jobCtx, err)
		text := FailureText(err)
		logger.Warn("Job failed", "error", text)

		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer rcancel()
		if ferr := c.reporter.Fail(rctx, types.FailRequest{JobID: jobID, Error: text}); ferr != nil {
			logger.Error("Failed to report failure", "error", ferr)
		}
		return Result{}, err
	}

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer rcancel()
	if err := c.reporter.Complete(rctx, types.CompleteRequest{JobID: jobID, OutputSizeBytes: size}); err != nil {
		logger.Error("Failed to report completion", "error", err)
		return Result{}, fmt.Errorf("complete: %w", err)
	}
	res := Result{OutputSize: size, Duration: c.opts.Now().Sub(start)}
	logger.Info("Job completed", "output_bytes", size, "duration", res.Duration)
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, a types.Assignment, cancel context.CancelCauseFunc, logger *slog.Logger) (int64, error) {
	jobID := a.Job.ID
	source := a.Item.Path

	args, err := SplitArgs(a.Args)
	if err != nil {
		return 0, &StepError{Step: "arguments", Err: err}
	}
	if _, err := os.Stat(source); err != nil {
		return 0, &StepError{Step: "copy-in", Err: fmt.Errorf("input missing: %w", err)}
	}

	slot := filepath.Join(c.opts.CacheDir, jobID)
	if err := os.MkdirAll(slot, 0o755); err != nil {
		return 0, &StepError{Step: "cache", Err: err}
	}
	defer func() {
		if err := fileutil.RemoveAll(slot); err != nil {
			logger.Warn("Failed to remove cache slot", "slot", slot, "error", err)
		}
	}()

	// copy-in
	c.marker(ctx, jobID, pctCopyIn, "Copying source to cache", cancel)
	if c.cancelRequested(ctx, jobID) {
		cancel(errCancelRequested)
		return 0, context.Cause(ctx)
	}
	srcExt := filepath.Ext(source)
	localIn := filepath.Join(slot, "src"+srcExt)
	if _, err := fileutil.CopyFile(ctx, source, localIn); err != nil {
		return 0, &StepError{Step: "copy-in", Err: err}
	}

	// transcode
	c.marker(ctx, jobID, pctEncode, "Encoding", cancel)
	localOut := filepath.Join(slot, "out"+OutputExt(args, srcExt))
	fwd := newForwarder(c.opts.Now, c.opts.ReportEvery, c.opts.ReportBurst)
	encodeTail, err := c.encoder.Encode(ctx, localIn, localOut, args, func(line string) {
		up, ok := fwd.offer(line)
		if !ok {
			return
		}
		req := types.ProgressRequest{JobID: jobID, LogTail: &up.Line}
		pct := -1.0
		if up.Progress != nil {
			pct = up.Progress.Pct
			req.Pct = &pct
			req.EtaSec = up.Progress.EtaSec
		}
		c.send(ctx, req, cancel)
		if c.OnProgress != nil && pct >= 0 {
			c.OnProgress(jobID, pct, up.Line)
		}
	})
	if err != nil {
		return 0, err
	}
	if c.cancelRequested(ctx, jobID) {
		cancel(errCancelRequested)
		return 0, context.Cause(ctx)
	}

	// verify
	outSize, err := c.verify(ctx, localIn, localOut, encodeTail)
	if err != nil {
		return 0, &StepError{Step: "verify", Err: err}
	}

	// copy-back
	c.marker(ctx, jobID, pctCopyBack, "Copying output to source", cancel)
	if _, err := fileutil.Replace(ctx, localOut, source); err != nil {
		return 0, &StepError{Step: "copy-back", Err: err}
	}

	c.marker(context.WithoutCancel(ctx), jobID, pctDone, "Done", nil)
	return outSize, nil
}

// verify rejects a missing, empty or truncated output.
func (c *Coordinator) verify(ctx context.Context, localIn, localOut, encodeTail string) (int64, error) {
	st, err := os.Stat(localOut)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if tail := strings.TrimSpace(encodeTail); tail != "" {
				return 0, fmt.Errorf("%w: %s | %s", ErrOutputMissing, filepath.Base(localOut), lastLine(tail))
			}
			return 0, fmt.Errorf("%w: %s", ErrOutputMissing, filepath.Base(localOut))
		}
		return 0, err
	}
	if st.Size() == 0 {
		return 0, ErrOutputEmpty
	}
	if c.prober == nil {
		return st.Size(), nil
	}

	src, err := c.prober.Probe(ctx, localIn)
	if err != nil || src.DurationSec <= 0 {
		return st.Size(), nil
	}
	out, err := c.prober.Probe(ctx, localOut)
	if err != nil || out.DurationSec <= 0 {
		return st.Size(), nil
	}
	if floor := src.DurationSec*minDurationRatio - durationSlackSec; out.DurationSec < floor {
		return 0, fmt.Errorf("%w: %.1fs of %.1fs", ErrOutputTruncated, out.DurationSec, src.DurationSec)
	}
	return st.Size(), nil
}

// classify turns a context error into a CancellationError.
func (c *Coordinator) classify(parent, jobCtx context.Context, err error) error {
	switch {
	case errors.Is(context.Cause(jobCtx), errCancelRequested):
		return &CancellationError{Reason: CancelledByUser}
	case parent.Err() != nil && errors.Is(err, context.Canceled):
		return &CancellationError{Reason: "worker shutting down"}
	}
	return err
}

func (c *Coordinator) marker(ctx context.Context, jobID string, pct float64, msg string, cancel context.CancelCauseFunc) {
	c.send(ctx, types.ProgressRequest{JobID: jobID, Pct: &pct, LogTail: &msg}, cancel)
	if c.OnProgress != nil {
		c.OnProgress(jobID, pct, msg)
	}
}

// send reports progress and cancels the job when the ack carries the cancel
// flag. Report errors are logged; the job keeps running.
func (c *Coordinator) send(ctx context.Context, req types.ProgressRequest, cancel context.CancelCauseFunc) {
	resp, err := c.reporter.ReportProgress(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug("Progress report failed", "jobID", req.JobID, "error", err)
		}
		return
	}
	if resp.CancelRequested && cancel != nil {
		cancel(errCancelRequested)
	}
}

func (c *Coordinator) cancelRequested(ctx context.Context, jobID string) bool {
	if errors.Is(context.Cause(ctx), errCancelRequested) {
		return true
	}
	job, err := c.reporter.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.CancelRequested
}

// watchCancel polls the cancel flag until the returned stop func is called.
func (c *Coordinator) watchCancel(ctx context.Context, jobID string, cancel context.CancelCauseFunc) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(c.opts.CancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := c.reporter.GetJob(ctx, jobID)
				if err != nil {
					continue
				}
				if job.CancelRequested {
					log.Info("Cancel flag seen", "jobID", jobID)
					cancel(errCancelRequested)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
