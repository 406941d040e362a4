// Package scanner walks entry folders for video files and probes the ones that
// are new or changed since the last scan.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

// ErrRootUnavailable means the entry folder could not be read. The scan stops
// before any item is flagged missing.
var ErrRootUnavailable = errors.New("entry root unavailable")

var videoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".mov": true, ".m4v": true, ".avi": true,
	".mpg": true, ".mpeg": true, ".ts": true, ".wmv": true, ".webm": true,
}

// IsVideo reports whether path has a known video extension (case-insensitive).
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// Fingerprint is "size:mtimeUnix".
func Fingerprint(size, mtime int64) string {
	return fmt.Sprintf("%d:%d", size, mtime)
}

// Prober reads media metadata for one file.
type Prober interface {
	Probe(ctx context.Context, path string) (types.MediaInfo, error)
}

// ProgressFunc is called after each file is handled.
type ProgressFunc func(total, done int, current string)

// Scanner discovers media files under a root.
type Scanner struct {
	prober      Prober
	concurrency int
}

// New returns a scanner probing with up to concurrency files at once.
func New(prober Prober, concurrency int) *Scanner {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Scanner{prober: prober, concurrency: concurrency}
}

type found struct {
	path  string
	size  int64
	mtime int64
}

// List returns every video file under root, sorted by path.
func List(ctx context.Context, root string) ([]string, error) {
	files, err := walk(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func walk(ctx context.Context, root string) ([]found, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootUnavailable, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, root)
	}

	var files []found
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warn("Skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || !IsVideo(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Warn("Skipping file without info", "path", path, "error", err)
			return nil
		}
		files = append(files, found{path: path, size: info.Size(), mtime: info.ModTime().Unix()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// Scan walks root and returns one Discovered per video file. Files whose
// fingerprint equals known[path] are not probed and carry a nil Info.
func (s *Scanner) Scan(ctx context.Context, root string, known map[string]string, progress ProgressFunc) ([]store.Discovered, error) {
	files, err := walk(ctx, root)
	if err != nil {
		return nil, err
	}

	out := make([]store.Discovered, len(files))
	var (
		mu   sync.Mutex
		done int
	)
	report := func(path string) {
		if progress == nil {
			return
		}
		mu.Lock()
		done++
		n := done
		mu.Unlock()
		progress(len(files), n, path)
	}
	if progress != nil {
		progress(len(files), 0, "")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		d := store.Discovered{
			Path:        f.path,
			SizeBytes:   f.size,
			MTime:       f.mtime,
			Fingerprint: Fingerprint(f.size, f.mtime),
		}
		if prev, ok := known[f.path]; ok && prev == d.Fingerprint {
			out[i] = d
			report(f.path)
			continue
		}

		i, d := i, d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := s.prober.Probe(gctx, d.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("Probe failed", "path", d.Path, "error", err)
				d.ProbeErr = err.Error()
				info = types.MediaInfo{}
			}
			d.Info = &info
			out[i] = d
			report(d.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
