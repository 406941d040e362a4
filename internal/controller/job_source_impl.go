package controller

import (
	"context"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/worker"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ============================================================================
// Local JobSource
// ============================================================================

// LocalSource lets a worker in the server process call the controller
// directly, with the same semantics as the gRPC source.
type LocalSource struct {
	c *Controller
}

var _ worker.JobSource = (*LocalSource)(nil)

// LocalSource returns a JobSource backed by this controller.
func (c *Controller) LocalSource() *LocalSource {
	return &LocalSource{c: c}
}

// Claim implements worker.JobSource.
func (s *LocalSource) Claim(ctx context.Context, req types.ClaimRequest) (types.ClaimResponse, error) {
	return s.c.Claim(ctx, req)
}

// Heartbeat implements worker.JobSource.
func (s *LocalSource) Heartbeat(ctx context.Context, req types.HeartbeatRequest) error {
	_, err := s.c.Heartbeat(ctx, req)
	return err
}

// ReportProgress implements worker.JobSource.
func (s *LocalSource) ReportProgress(ctx context.Context, req types.ProgressRequest) (types.ProgressResponse, error) {
	job, err := s.c.ReportProgress(ctx, req)
	if err != nil {
		return types.ProgressResponse{}, err
	}
	return types.ProgressResponse{CancelRequested: job.CancelRequested}, nil
}

// GetJob implements worker.JobSource.
func (s *LocalSource) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	return s.c.GetJob(ctx, jobID)
}

// Complete implements worker.JobSource.
func (s *LocalSource) Complete(ctx context.Context, req types.CompleteRequest) error {
	_, err := s.c.Complete(ctx, req)
	return err
}

// Fail implements worker.JobSource.
func (s *LocalSource) Fail(ctx context.Context, req types.FailRequest) error {
	_, err := s.c.Fail(ctx, req)
	return err
}
