package worker

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/rpc"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// GrpcJobSource is a JobSource that talks to a remote server via gRPC.
type GrpcJobSource struct {
	client *rpc.Client
	health healthpb.HealthClient
}

// NewGrpcJobSource creates a source on an established connection.
func NewGrpcJobSource(conn grpc.ClientConnInterface) *GrpcJobSource {
	return &GrpcJobSource{
		client: rpc.NewClient(conn),
		health: healthpb.NewHealthClient(conn),
	}
}

// Ping checks that the server's coordinator service is serving.
func (s *GrpcJobSource) Ping(ctx context.Context) error {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server is %s", resp.GetStatus())
	}
	return nil
}

// Claim asks the server for a job.
func (s *GrpcJobSource) Claim(ctx context.Context, req types.ClaimRequest) (types.ClaimResponse, error) {
	resp, err := s.client.Claim(ctx, &req)
	if err != nil {
		return types.ClaimResponse{}, fmt.Errorf("rpc claim: %w", err)
	}
	return *resp, nil
}

// Heartbeat refreshes the worker on the server.
func (s *GrpcJobSource) Heartbeat(ctx context.Context, req types.HeartbeatRequest) error {
	if _, err := s.client.Heartbeat(ctx, &req); err != nil {
		return fmt.Errorf("rpc heartbeat: %w", err)
	}
	return nil
}

// ReportProgress sends progress for a running job.
func (s *GrpcJobSource) ReportProgress(ctx context.Context, req types.ProgressRequest) (types.ProgressResponse, error) {
	resp, err := s.client.ReportProgress(ctx, &req)
	if err != nil {
		return types.ProgressResponse{}, fmt.Errorf("rpc progress: %w", err)
	}
	return *resp, nil
}

// GetJob reads a job, mainly for its cancel flag.
func (s *GrpcJobSource) GetJob(ctx context.Context, jobID string) (types.Job, error) {
	resp, err := s.client.GetJob(ctx, &types.JobRequest{JobID: jobID})
	if err != nil {
		return types.Job{}, fmt.Errorf("rpc get job: %w", err)
	}
	return resp.Job, nil
}

// Complete reports a finished job.
func (s *GrpcJobSource) Complete(ctx context.Context, req types.CompleteRequest) error {
	if _, err := s.client.Complete(ctx, &req); err != nil {
		return fmt.Errorf("rpc complete: %w", err)
	}
	return nil
}

// Fail reports a failed job.
func (s *GrpcJobSource) Fail(ctx context.Context, req types.FailRequest) error {
	if _, err := s.client.Fail(ctx, &req); err != nil {
		return fmt.Errorf("rpc fail: %w", err)
	}
	return nil
}
