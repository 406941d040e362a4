package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/api"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/config"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/controller"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	return types.MediaInfo{DurationSec: 1200, Width: 1920, Height: 1080, VideoCodec: "h264"}, nil
}

type cliEnv struct {
	ctrl     *controller.Controller
	url      string
	mediaDir string
}

func setupCLITestEnv(t *testing.T) *cliEnv {
	t.Helper()
	root := t.TempDir()
	mediaDir := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "show.mkv"), []byte(strings.Repeat("x", 2048)), 0o644))

	ctrl, err := controller.New(controller.Config{
		DataDir:  filepath.Join(root, "data"),
		Liveness: time.Minute,
		Registry: prometheus.NewRegistry(),
		Prober:   stubProber{},
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Stop)

	srv := httptest.NewServer(api.NewRouter(ctrl))
	t.Cleanup(srv.Close)
	return &cliEnv{ctrl: ctrl, url: srv.URL, mediaDir: mediaDir}
}

func runCLI(t *testing.T, env *cliEnv, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--server", env.url))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// ============================================================================
// Command tree
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "spacesaver", cmd.Use)
	assert.Equal(t, Version, cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"server", "worker", "status", "entries", "items", "jobs", "workers", "config", "targets"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "spacesaver.yaml", configFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("server"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("json"))
}

func TestBuildServerCommand(t *testing.T) {
	cmd := buildServerCommand(&options{})

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "run", run.Name())
	assert.NotNil(t, run.Flags().Lookup("with-worker"))
	assert.NotNil(t, run.RunE)
}

func TestJobsSubcommands(t *testing.T) {
	cmd := buildJobsCommand(&options{})
	for _, name := range []string{"list", "show", "cancel", "cancel-all", "rm", "archive", "archived"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

// ============================================================================
// Operator commands against a live API
// ============================================================================

func TestEntriesAndItemsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "entries", "add", env.mediaDir, "--name", "Shows")
	require.NoError(t, err)
	assert.Contains(t, out, "Added entry ent_")

	entries := env.ctrl.Store().ListEntries()
	require.Len(t, entries, 1)
	entryID := entries[0].ID

	out, err = runCLI(t, env, "entries", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Shows")
	assert.Contains(t, out, entryID)

	_, err = env.ctrl.ScanEntry(context.Background(), entryID)
	require.NoError(t, err)

	out, err = runCLI(t, env, "items", "list", "--entry", entryID)
	require.NoError(t, err)
	assert.Contains(t, out, "show.mkv")
	assert.Contains(t, out, "1080p")

	items, err := env.ctrl.Store().ListItems(store.ItemFilter{EntryID: entryID})
	require.NoError(t, err)
	require.Len(t, items, 1)

	out, err = runCLI(t, env, "items", "ready", items[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "(ready)")

	out, err = runCLI(t, env, "items", "list", "--status", "ready", "--json")
	require.NoError(t, err)
	var listed []types.Item
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, items[0].ID, listed[0].ID)

	out, err = runCLI(t, env, "items", "unready", items[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "(idle)")
}

func TestCommandErrorsCarrySentinels(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "items", "reset", "itm_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = runCLI(t, env, "targets", "add", "0", "5")
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = runCLI(t, env, "targets", "add", "tall", "5")
	assert.Error(t, err)
}

func TestJobsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	entry, err := env.ctrl.Store().AddEntry(env.mediaDir, "", "")
	require.NoError(t, err)
	_, err = env.ctrl.ScanEntry(ctx, entry.ID)
	require.NoError(t, err)
	items, err := env.ctrl.Store().ListItems(store.ItemFilter{})
	require.NoError(t, err)
	_, err = env.ctrl.Store().SetReady(items[0].ID, true)
	require.NoError(t, err)
	resp, err := env.ctrl.Claim(ctx, types.ClaimRequest{WorkerID: "wrk_den", WorkerName: "den"})
	require.NoError(t, err)
	require.NotNil(t, resp.Assignment)

	out, err := runCLI(t, env, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, resp.Assignment.Job.ID)
	assert.Contains(t, out, "den")

	out, err = runCLI(t, env, "jobs", "cancel-all")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancellation requested for 1 jobs")

	out, err = runCLI(t, env, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "(cancelling)")

	out, err = runCLI(t, env, "workers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "wrk_den")
	assert.Contains(t, out, "online")

	_, err = runCLI(t, env, "jobs", "rm", resp.Assignment.Job.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestConfigAndTargetsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "targets", "add", "1080", "14")
	require.NoError(t, err)
	assert.Contains(t, out, "1080p target is now 14.0 MB/min (1 samples)")

	out, err = runCLI(t, env, "config", "set", "--baseline-args", "-e x265 -q 22")
	require.NoError(t, err)
	assert.Contains(t, out, "Config updated")

	out, err = runCLI(t, env, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "-e x265 -q 22")
	assert.Contains(t, out, "14.0")

	_, err = runCLI(t, env, "targets", "clear")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTargets(), env.ctrl.Store().Config().TargetMbPerMinByHeight)
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Workers online")
	assert.Contains(t, out, "Data dir")
}

// ============================================================================
// server run
// ============================================================================

func TestRunServerStopsOnCancel(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, &cfg, nil) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServer did not return after cancel")
	}

	// The data dir lock is released on the way out.
	ctrl, err := controller.New(controller.Config{DataDir: cfg.DataDir, Liveness: time.Minute})
	require.NoError(t, err)
	ctrl.Stop()
}
