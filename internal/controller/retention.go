package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/archive"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ArchiveJobs moves terminal jobs that finished before now-maxAge, apart from
// the newest keep terminal jobs, into the archive and removes them from state.
// Rows are written before the purge; a crash in between only re-archives.
func (c *Controller) ArchiveJobs(ctx context.Context, maxAge time.Duration, keep int) (int, error) {
	if maxAge < 0 || keep < 0 {
		return 0, fmt.Errorf("%w: max age and keep cannot be negative", store.ErrValidation)
	}
	jobs := c.store.ArchivableJobs(c.config.Now().Add(-maxAge), keep)
	if len(jobs) == 0 {
		return 0, nil
	}
	if err := c.archive.Put(ctx, jobs); err != nil {
		return 0, err
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	n, err := c.store.PurgeJobs(ids)
	if err != nil {
		return 0, err
	}
	log.Info("Jobs archived", "count", n, "max_age", maxAge, "keep", keep)
	return n, nil
}

// LookupJob returns a live job, falling back to the archive.
func (c *Controller) LookupJob(ctx context.Context, jobID string) (types.Job, error) {
	job, err := c.store.GetJob(jobID)
	if !errors.Is(err, store.ErrNotFound) {
		return job, err
	}
	job, err = c.archive.Get(ctx, jobID)
	if errors.Is(err, archive.ErrNotFound) {
		return types.Job{}, fmt.Errorf("%w: job %s", store.ErrNotFound, jobID)
	}
	return job, err
}

// ArchivedJobs lists archived jobs, newest first.
func (c *Controller) ArchivedJobs(ctx context.Context, filter archive.Filter) ([]types.Job, error) {
	return c.archive.List(ctx, filter)
}

// DeleteJob removes a terminal job, or flags an active one and reports a conflict.
func (c *Controller) DeleteJob(ctx context.Context, jobID string) error {
	before, err := c.store.GetJob(jobID)
	if err != nil {
		return err
	}
	err = c.store.DeleteJob(jobID)
	if errors.Is(err, store.ErrConflict) && !before.CancelRequested {
		c.metrics.RecordCancelRequests(1)
	}
	return err
}
