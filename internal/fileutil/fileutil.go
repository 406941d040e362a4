// Package fileutil copies media files and swaps them into place atomically.
package fileutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempSuffix is appended to the destination name while a replacement is written.
const TempSuffix = ".tmp"

const copyChunk = 4 << 20

// Test seams around the rename in Replace. Nil in production.
var (
	beforeRename func(tmp, dst string) error
	afterRename  func(tmp, dst string) error
)

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > copyChunk {
		p = p[:copyChunk]
	}
	return c.r.Read(p)
}

// CopyFile copies src to dst, creating or truncating dst, and fsyncs it.
// A partial dst is removed when the copy fails or ctx is cancelled.
func CopyFile(ctx context.Context, src, dst string) (n int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if !st.Mode().IsRegular() {
		return 0, fmt.Errorf("copy %s: not a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	n, err = io.Copy(out, ctxReader{ctx: ctx, r: in})
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", src, err)
	}
	if err = out.Sync(); err != nil {
		return n, err
	}
	if err = out.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Replace copies src beside dst as dst+TempSuffix, fsyncs it and renames it
// over dst. dst is never removed first, so at any point either the old or the
// new content is present at dst. The temp file is removed on failure.
func Replace(ctx context.Context, src, dst string) (int64, error) {
	tmp := dst + TempSuffix
	n, err := CopyFile(ctx, src, tmp)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if st, err := os.Stat(dst); err == nil {
		// keep the original permission bits
		_ = os.Chmod(tmp, st.Mode().Perm())
	}

	if beforeRename != nil {
		if err := beforeRename(tmp, dst); err != nil {
			os.Remove(tmp)
			return 0, err
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	SyncDir(filepath.Dir(dst))
	if afterRename != nil {
		if err := afterRename(tmp, dst); err != nil {
			return n, err
		}
	}
	return n, nil
}

// SyncDir fsyncs a directory so a rename inside it is durable. Errors are
// ignored; some filesystems do not support it.
func SyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// RemoveAll removes path, ignoring a path that does not exist.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
