package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewHandler_AutoUsesJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, "info", "auto")
	require.NoError(t, err)

	slog.New(h).Info("Job claimed", "jobID", "job_1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Job claimed", rec["msg"])
	assert.Equal(t, "job_1", rec["jobID"])
}

func TestNewHandler_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, "warn", "text")
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("dropped")
	logger.Warn("kept", "itemID", "itm_1")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
	assert.Contains(t, out, "itemID=itm_1")
}

func TestNewHandler_RejectsUnknownFormat(t *testing.T) {
	_, err := NewHandler(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestLoggerFollowsLaterDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := Logger().With("component", "store")

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	logger.WithGroup("job").Debug("claimed", "id", "job-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "claimed", rec["msg"])
	assert.Equal(t, "store", rec["component"])
	assert.Equal(t, map[string]any{"id": "job-1"}, rec["job"])
}
