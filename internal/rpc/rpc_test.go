package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

func TestToStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: bad id", store.ErrValidation), codes.InvalidArgument},
		{fmt.Errorf("%w: job x", store.ErrNotFound), codes.NotFound},
		{fmt.Errorf("%w: job x is done", store.ErrConflict), codes.Aborted},
		{fmt.Errorf("%w: item processing", store.ErrInvalidState), codes.FailedPrecondition},
		{errors.New("disk full"), codes.Internal},
	}
	for _, tc := range cases {
		st, ok := status.FromError(ToStatus(tc.err))
		require.True(t, ok)
		assert.Equal(t, tc.code, st.Code(), tc.err.Error())
	}
	assert.NoError(t, ToStatus(nil))
}

func TestFromStatusRestoresSentinels(t *testing.T) {
	orig := fmt.Errorf("%w: job job_1", store.ErrNotFound)
	back := FromStatus(ToStatus(orig))
	assert.ErrorIs(t, back, store.ErrNotFound)
	assert.Equal(t, "not found: job job_1", back.Error())

	conflict := FromStatus(status.Error(codes.Aborted, "already done"))
	assert.ErrorIs(t, conflict, store.ErrConflict)
	assert.Equal(t, "conflict: already done", conflict.Error())

	unavailable := status.Error(codes.Unavailable, "connection refused")
	assert.Equal(t, unavailable, FromStatus(unavailable))
	assert.NoError(t, FromStatus(nil))
}

type echoServer struct {
	lastHeartbeat *types.HeartbeatRequest
}

func (s *echoServer) Claim(ctx context.Context, req *types.ClaimRequest) (*types.ClaimResponse, error) {
	if req.WorkerID == "" {
		return nil, ToStatus(fmt.Errorf("%w: worker id is required", store.ErrValidation))
	}
	return &types.ClaimResponse{Assignment: &types.Assignment{
		Job:  types.Job{ID: "job_1", WorkerID: req.WorkerID, Status: types.JobClaimed},
		Args: "-q 20",
	}}, nil
}

func (s *echoServer) Heartbeat(ctx context.Context, req *types.HeartbeatRequest) (*types.Empty, error) {
	s.lastHeartbeat = req
	return &types.Empty{}, nil
}

func (s *echoServer) ReportProgress(ctx context.Context, req *types.ProgressRequest) (*types.ProgressResponse, error) {
	return &types.ProgressResponse{CancelRequested: req.Pct != nil && *req.Pct >= 50}, nil
}

func (s *echoServer) Complete(ctx context.Context, req *types.CompleteRequest) (*types.Empty, error) {
	return &types.Empty{}, nil
}

func (s *echoServer) Fail(ctx context.Context, req *types.FailRequest) (*types.Empty, error) {
	return nil, ToStatus(fmt.Errorf("%w: job %s is already done", store.ErrConflict, req.JobID))
}

func (s *echoServer) GetJob(ctx context.Context, req *types.JobRequest) (*types.JobResponse, error) {
	return nil, ToStatus(fmt.Errorf("%w: job %s", store.ErrNotFound, req.JobID))
}

func dialEcho(t *testing.T, srv CoordinatorServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterCoordinatorServer(gs, srv)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestClientRoundTrip(t *testing.T) {
	srv := &echoServer{}
	client := dialEcho(t, srv)
	ctx := context.Background()

	resp, err := client.Claim(ctx, &types.ClaimRequest{WorkerID: "wrk_a"})
	require.NoError(t, err)
	require.NotNil(t, resp.Assignment)
	assert.Equal(t, "job_1", resp.Assignment.Job.ID)
	assert.Equal(t, "wrk_a", resp.Assignment.Job.WorkerID)
	assert.Equal(t, "-q 20", resp.Assignment.Args)

	_, err = client.Heartbeat(ctx, &types.HeartbeatRequest{
		WorkerID:  "wrk_a",
		WorkHours: []types.WorkWindow{{Start: "22:00", End: "06:00"}},
	})
	require.NoError(t, err)
	require.NotNil(t, srv.lastHeartbeat)
	assert.Equal(t, []types.WorkWindow{{Start: "22:00", End: "06:00"}}, srv.lastHeartbeat.WorkHours)

	pct := 60.0
	progress, err := client.ReportProgress(ctx, &types.ProgressRequest{JobID: "job_1", Pct: &pct})
	require.NoError(t, err)
	assert.True(t, progress.CancelRequested)
}

func TestClientMapsErrors(t *testing.T) {
	client := dialEcho(t, &echoServer{})
	ctx := context.Background()

	_, err := client.Claim(ctx, &types.ClaimRequest{})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = client.Fail(ctx, &types.FailRequest{JobID: "job_1", Error: "boom"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = client.GetJob(ctx, &types.JobRequest{JobID: "job_9"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), "job_9")
}
