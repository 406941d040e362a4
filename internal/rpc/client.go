package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// Client calls the coordinator service. Errors are converted back to the
// store's sentinel errors with FromStatus.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client on an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return FromStatus(c.cc.Invoke(ctx, FullMethod(method), in, out, opts...))
}

// Claim asks for the best eligible item.
func (c *Client) Claim(ctx context.Context, in *types.ClaimRequest, opts ...grpc.CallOption) (*types.ClaimResponse, error) {
	out := new(types.ClaimResponse)
	if err := c.invoke(ctx, MethodClaim, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat refreshes the worker's liveness.
func (c *Client) Heartbeat(ctx context.Context, in *types.HeartbeatRequest, opts ...grpc.CallOption) (*types.Empty, error) {
	out := new(types.Empty)
	if err := c.invoke(ctx, MethodHeartbeat, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportProgress sends progress and learns whether cancellation was requested.
func (c *Client) ReportProgress(ctx context.Context, in *types.ProgressRequest, opts ...grpc.CallOption) (*types.ProgressResponse, error) {
	out := new(types.ProgressResponse)
	if err := c.invoke(ctx, MethodReportProgress, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Complete finalizes a job as done.
func (c *Client) Complete(ctx context.Context, in *types.CompleteRequest, opts ...grpc.CallOption) (*types.Empty, error) {
	out := new(types.Empty)
	if err := c.invoke(ctx, MethodComplete, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Fail finalizes a job as failed.
func (c *Client) Fail(ctx context.Context, in *types.FailRequest, opts ...grpc.CallOption) (*types.Empty, error) {
	out := new(types.Empty)
	if err := c.invoke(ctx, MethodFail, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob reads a live job.
func (c *Client) GetJob(ctx context.Context, in *types.JobRequest, opts ...grpc.CallOption) (*types.JobResponse, error) {
	out := new(types.JobResponse)
	if err := c.invoke(ctx, MethodGetJob, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
