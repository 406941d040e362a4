package fileutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCrash = errors.New("simulated crash")

func setup(t *testing.T) (src, dst string) {
	t.Helper()
	dir := t.TempDir()
	src = filepath.Join(dir, "out.mkv")
	dst = filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(src, []byte("new encoded content"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("original content that is larger"), 0o640))
	return src, dst
}

func withHooks(t *testing.T, before, after func(tmp, dst string) error) {
	t.Helper()
	beforeRename, afterRename = before, after
	t.Cleanup(func() { beforeRename, afterRename = nil, nil })
}

func TestCopyFile(t *testing.T) {
	src, _ := setup(t)
	dst := filepath.Join(t.TempDir(), "copy.mkv")

	n, err := CopyFile(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("new encoded content")), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new encoded content", string(got))
}

func TestCopyFileCancelled(t *testing.T) {
	src, _ := setup(t)
	dst := filepath.Join(t.TempDir(), "copy.mkv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CopyFile(ctx, src, dst)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
}

func TestReplace(t *testing.T) {
	src, dst := setup(t)

	n, err := Replace(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(19), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new encoded content", string(got))
	assert.NoFileExists(t, dst+TempSuffix)

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), st.Mode().Perm())
}

func TestReplaceCrashBeforeRenameKeepsOriginal(t *testing.T) {
	src, dst := setup(t)
	before, err := os.ReadFile(dst)
	require.NoError(t, err)

	var sawTemp bool
	withHooks(t, func(tmp, _ string) error {
		_, statErr := os.Stat(tmp)
		sawTemp = statErr == nil
		return errCrash
	}, nil)

	_, err = Replace(context.Background(), src, dst)
	assert.ErrorIs(t, err, errCrash)
	assert.True(t, sawTemp, "temp file is fully written before the rename")

	after, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReplaceCrashAfterRenameHasNewFile(t *testing.T) {
	src, dst := setup(t)
	withHooks(t, nil, func(string, string) error { return errCrash })

	_, err := Replace(context.Background(), src, dst)
	assert.ErrorIs(t, err, errCrash)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new encoded content", string(got))
	assert.NoFileExists(t, dst+TempSuffix)
}

func TestReplaceMissingSource(t *testing.T) {
	_, dst := setup(t)
	_, err := Replace(context.Background(), filepath.Join(t.TempDir(), "nope.mkv"), dst)
	assert.Error(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "original content that is larger", string(got))
}
