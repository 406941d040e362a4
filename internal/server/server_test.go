package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/controller"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/worker"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	return types.MediaInfo{DurationSec: 1800, Width: 1280, Height: 720}, nil
}

type stubEncoder struct{}

func (stubEncoder) Encode(ctx context.Context, input, output string, args []string, onLine func(string)) (string, error) {
	onLine("Encoding: task 1 of 1, 99.00 %")
	return "", os.WriteFile(output, []byte("re-encoded"), 0o644)
}

type harness struct {
	ctrl   *controller.Controller
	source *worker.GrpcJobSource
	media  string
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	ctrl, err := controller.New(controller.Config{
		DataDir: filepath.Join(root, "data"),
		Prober:  stubProber{},
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Stop)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(ctrl)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	media := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(media, 0o755))
	return &harness{ctrl: ctrl, source: worker.NewGrpcJobSource(conn), media: media}
}

// addReadyFile creates a file, scans it in and flags it ready.
func (h *harness) addReadyFile(t *testing.T, name string) types.Item {
	t.Helper()
	path := filepath.Join(h.media, name)
	require.NoError(t, os.WriteFile(path, []byte("original content that is longer"), 0o644))

	entry, err := h.ctrl.Store().AddEntry(h.media, "", "")
	require.NoError(t, err)
	_, err = h.ctrl.ScanEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	items, err := h.ctrl.Store().ListItems(store.ItemFilter{EntryID: entry.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	item, err := h.ctrl.Store().SetReady(items[0].ID, true)
	require.NoError(t, err)
	return item
}

func TestPing(t *testing.T) {
	h := startHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, h.source.Ping(ctx))
}

func TestProtocolOverGRPC(t *testing.T) {
	h := startHarness(t)
	item := h.addReadyFile(t, "show.mkv")
	ctx := context.Background()

	require.NoError(t, h.source.Heartbeat(ctx, types.HeartbeatRequest{WorkerID: "wrk_remote", WorkerName: "remote"}))

	resp, err := h.source.Claim(ctx, types.ClaimRequest{WorkerID: "wrk_remote", WorkerName: "remote"})
	require.NoError(t, err)
	require.NotNil(t, resp.Assignment)
	assert.Equal(t, item.ID, resp.Assignment.Item.ID)
	assert.Equal(t, types.DefaultBaselineArgs, resp.Assignment.Args)
	jobID := resp.Assignment.Job.ID

	pct := 12.5
	progress, err := h.source.ReportProgress(ctx, types.ProgressRequest{JobID: jobID, Pct: &pct})
	require.NoError(t, err)
	assert.False(t, progress.CancelRequested)

	_, err = h.ctrl.RequestCancel(ctx, jobID)
	require.NoError(t, err)
	progress, err = h.source.ReportProgress(ctx, types.ProgressRequest{JobID: jobID, Pct: &pct})
	require.NoError(t, err)
	assert.True(t, progress.CancelRequested)

	job, err := h.source.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, job.Status)
	assert.True(t, job.CancelRequested)

	require.NoError(t, h.source.Fail(ctx, types.FailRequest{JobID: jobID, Error: "cancelled: Cancelled by user"}))
	got, err := h.ctrl.Store().GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemFailed, got.Status)
}

func TestErrorsMapBackToSentinels(t *testing.T) {
	h := startHarness(t)
	ctx := context.Background()

	_, err := h.source.Claim(ctx, types.ClaimRequest{WorkerID: "   "})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = h.source.GetJob(ctx, "job_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	pct := 10.0
	_, err = h.source.ReportProgress(ctx, types.ProgressRequest{JobID: "job_missing", Pct: &pct})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = h.source.Complete(ctx, types.CompleteRequest{JobID: "job_missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	item := h.addReadyFile(t, "a.mkv")
	resp, err := h.source.Claim(ctx, types.ClaimRequest{WorkerID: "wrk_a"})
	require.NoError(t, err)
	require.NotNil(t, resp.Assignment)
	require.NoError(t, h.source.Fail(ctx, types.FailRequest{JobID: resp.Assignment.Job.ID, Error: "boom"}))

	err = h.source.Complete(ctx, types.CompleteRequest{JobID: resp.Assignment.Job.ID})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = h.ctrl.Store().SetReady(item.ID, true)
	require.NoError(t, err)
	resp, err = h.source.Claim(ctx, types.ClaimRequest{WorkerID: "wrk_a"})
	require.NoError(t, err)
	require.NotNil(t, resp.Assignment)
	_, err = h.ctrl.Store().SetReady(item.ID, false)
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestRemoteWorkerRunsJob(t *testing.T) {
	h := startHarness(t)
	item := h.addReadyFile(t, "film.mkv")

	w, err := worker.New(h.source, stubEncoder{}, stubProber{}, worker.Config{
		ID:       "wrk_remote",
		CacheDir: t.TempDir(),
	})
	require.NoError(t, err)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	got, err := h.ctrl.Store().GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemDone, got.Status)
	assert.Equal(t, int64(len("re-encoded")), got.SizeBytes)
	assert.Equal(t, 1, got.TranscodeCount)

	data, err := os.ReadFile(item.Path)
	require.NoError(t, err)
	assert.Equal(t, "re-encoded", string(data))
}
