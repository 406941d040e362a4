package controller

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/metrics"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/scanner"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// refreshProbeTimeout bounds the probe of a replaced file during Complete.
const refreshProbeTimeout = 2 * time.Minute

// Claim hands the best eligible item to the worker, or says why there is none.
func (c *Controller) Claim(ctx context.Context, req types.ClaimRequest) (types.ClaimResponse, error) {
	assignment, reason, err := c.store.Claim(req.WorkerID, req.WorkerName, c.gate.Eligible)
	if err != nil {
		return types.ClaimResponse{}, err
	}
	if assignment == nil {
		c.metrics.RecordClaim(reason)
		log.Debug("No job for worker", "workerID", req.WorkerID, "reason", reason)
		return types.ClaimResponse{Reason: reason}, nil
	}
	c.metrics.RecordClaim(metrics.ClaimAssigned)
	return types.ClaimResponse{Assignment: assignment}, nil
}

// Heartbeat refreshes a worker's liveness and optionally its work hours.
func (c *Controller) Heartbeat(ctx context.Context, req types.HeartbeatRequest) (types.Worker, error) {
	return c.store.Heartbeat(req.WorkerID, req.WorkerName, req.WorkHours)
}

// ReportProgress records progress and returns the job so the worker sees
// whether cancellation was requested.
func (c *Controller) ReportProgress(ctx context.Context, req types.ProgressRequest) (types.Job, error) {
	return c.store.ReportProgress(req)
}

// Complete finalizes a job. The replaced file is inspected before the store
// lock is taken so the item carries the new size, fingerprint and metadata.
func (c *Controller) Complete(ctx context.Context, req types.CompleteRequest) (types.Job, error) {
	job, err := c.store.GetJob(req.JobID)
	if err != nil {
		return types.Job{}, err
	}

	var (
		before  int64
		refresh *store.FileRefresh
	)
	if item, err := c.store.GetItem(job.ItemID); err == nil {
		before = item.SizeBytes
		if !job.Status.IsTerminal() {
			refresh = c.inspect(ctx, item.Path)
		}
	}

	done, err := c.store.Complete(req.JobID, req.OutputSizeBytes, refresh)
	if err != nil {
		return types.Job{}, err
	}

	after := req.OutputSizeBytes
	if refresh != nil {
		after = refresh.SizeBytes
	}
	var elapsed time.Duration
	if done.FinishedAt != nil {
		elapsed = done.FinishedAt.Sub(done.ClaimedAt)
	}
	c.metrics.RecordCompleted(elapsed, before-after)
	c.refreshGauges()
	return done, nil
}

// inspect stats and probes path. It returns nil when the file cannot be read.
func (c *Controller) inspect(ctx context.Context, path string) *store.FileRefresh {
	fi, err := os.Stat(path)
	if err != nil {
		log.Warn("Cannot stat replaced file", "path", path, "error", err)
		return nil
	}
	refresh := &store.FileRefresh{
		SizeBytes:   fi.Size(),
		MTime:       fi.ModTime().Unix(),
		Fingerprint: scanner.Fingerprint(fi.Size(), fi.ModTime().Unix()),
	}

	pctx, cancel := context.WithTimeout(ctx, refreshProbeTimeout)
	defer cancel()
	info, err := c.prober().Probe(pctx, path)
	if err != nil {
		log.Warn("Cannot probe replaced file", "path", path, "error", err)
		refresh.ProbeErr = err.Error()
		return refresh
	}
	refresh.Info = &info
	return refresh
}

// Fail finalizes a job as failed.
func (c *Controller) Fail(ctx context.Context, req types.FailRequest) (types.Job, error) {
	job, err := c.store.Fail(req.JobID, req.Error)
	if err != nil {
		return types.Job{}, err
	}
	kind := metrics.FailError
	if strings.HasPrefix(job.Error, "cancelled:") {
		kind = metrics.FailCancelled
	}
	c.metrics.RecordFailed(kind)
	c.refreshGauges()
	return job, nil
}

// RequestCancel flags one job for cancellation.
func (c *Controller) RequestCancel(ctx context.Context, jobID string) (types.Job, error) {
	before, err := c.store.GetJob(jobID)
	if err != nil {
		return types.Job{}, err
	}
	job, err := c.store.RequestCancel(jobID)
	if err != nil {
		return types.Job{}, err
	}
	if !before.CancelRequested && job.CancelRequested {
		c.metrics.RecordCancelRequests(1)
	}
	return job, nil
}

// CancelAll flags every non-terminal job and returns how many there were.
func (c *Controller) CancelAll(ctx context.Context) (int, error) {
	n, err := c.store.CancelAll()
	if err != nil {
		return 0, err
	}
	c.metrics.RecordCancelRequests(n)
	return n, nil
}

// GetJob returns a live job.
func (c *Controller) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	return c.store.GetJob(jobID)
}
