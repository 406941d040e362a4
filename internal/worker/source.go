// ============================================================================
// Spacesaver Job Source Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: the abstraction a worker uses to claim jobs and report on them.
//
// Implementations:
//   - GrpcJobSource: talks to a remote server over gRPC (worker run)
//   - controller.LocalSource: calls the in-process controller
//     (server run --with-worker)
//
// Both return the store's sentinel errors, so the worker loop handles a
// NotFound or Conflict the same way whichever source it runs on.
//
// ============================================================================

package worker

import (
	"context"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/transcode"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// JobSource is where a worker gets its jobs and reports their outcome.
type JobSource interface {
	// Claim asks for the best eligible item. A response without an
	// assignment carries the reason (no work, off hours).
	Claim(ctx context.Context, req types.ClaimRequest) (types.ClaimResponse, error)

	// Heartbeat refreshes liveness and publishes the worker's work hours.
	Heartbeat(ctx context.Context, req types.HeartbeatRequest) error

	// ReportProgress, GetJob, Complete and Fail are used by the running job.
	transcode.Reporter
}
