// Package server exposes the controller's worker protocol over gRPC.
package server

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/controller"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/rpc"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

// Server implements rpc.CoordinatorServer on top of a Controller.
type Server struct {
	controller *controller.Controller
	grpc       *grpc.Server
	health     *health.Server
}

// NewServer builds the gRPC server with the coordinator and health services.
func NewServer(ctrl *controller.Controller, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logCalls)}, opts...)
	s := &Server{
		controller: ctrl,
		grpc:       grpc.NewServer(opts...),
		health:     health.NewServer(),
	}
	rpc.RegisterCoordinatorServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks the service not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Claim hands the best eligible item to the calling worker.
func (s *Server) Claim(ctx context.Context, req *types.ClaimRequest) (*types.ClaimResponse, error) {
	resp, err := s.controller.Claim(ctx, *req)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &resp, nil
}

// Heartbeat refreshes a worker's liveness.
func (s *Server) Heartbeat(ctx context.Context, req *types.HeartbeatRequest) (*types.Empty, error) {
	if _, err := s.controller.Heartbeat(ctx, *req); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &types.Empty{}, nil
}

// ReportProgress records progress and returns the cancel flag.
func (s *Server) ReportProgress(ctx context.Context, req *types.ProgressRequest) (*types.ProgressResponse, error) {
	job, err := s.controller.ReportProgress(ctx, *req)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &types.ProgressResponse{CancelRequested: job.CancelRequested}, nil
}

// Complete finalizes a job as done.
func (s *Server) Complete(ctx context.Context, req *types.CompleteRequest) (*types.Empty, error) {
	if _, err := s.controller.Complete(ctx, *req); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &types.Empty{}, nil
}

// Fail finalizes a job as failed.
func (s *Server) Fail(ctx context.Context, req *types.FailRequest) (*types.Empty, error) {
	if _, err := s.controller.Fail(ctx, *req); err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &types.Empty{}, nil
}

// GetJob returns a live job.
func (s *Server) GetJob(ctx context.Context, req *types.JobRequest) (*types.JobResponse, error) {
	job, err := s.controller.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &types.JobResponse{Job: job}, nil
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Debug("RPC failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	}
	return resp, err
}
