// Package probe reads container and stream metadata with ffprobe.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// EnvPath overrides the ffprobe location when no explicit path is configured.
const EnvPath = "FFPROBE_PATH"

// ErrNotFound means no ffprobe binary could be located.
var ErrNotFound = errors.New("ffprobe not found")

// Error is a probe failure for one file.
type Error struct {
	Path   string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("probe %s: %v: %s", e.Path, e.Err, e.Output)
	}
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolve returns the ffprobe binary to use: explicit when it exists, then
// $FFPROBE_PATH, then ffprobe on PATH.
func Resolve(explicit string) (string, bool) {
	for _, candidate := range []string{strings.TrimSpace(explicit), strings.TrimSpace(os.Getenv(EnvPath))} {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	if p, err := exec.LookPath("ffprobe"); err == nil {
		return p, true
	}
	return "", false
}

// FFprobe runs an ffprobe binary.
type FFprobe struct {
	// Binary is the configured path. Empty means resolve at call time.
	Binary string
}

// New returns a prober for the configured binary path.
func New(binary string) *FFprobe {
	return &FFprobe{Binary: binary}
}

// Probe inspects path. Failures are *Error.
func (f *FFprobe) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	binary, ok := Resolve(f.Binary)
	if !ok {
		return types.MediaInfo{}, &Error{Path: path, Err: ErrNotFound}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return types.MediaInfo{}, &Error{Path: path, Output: strings.TrimSpace(stderr.String()), Err: err}
	}

	info, err := Parse(stdout.Bytes())
	if err != nil {
		return types.MediaInfo{}, &Error{Path: path, Err: err}
	}
	return info, nil
}

// ============================================================================
// ffprobe JSON
// ============================================================================

type result struct {
	Streams []stream `json:"streams"`
	Format  format   `json:"format"`
}

type stream struct {
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Duration     string            `json:"duration"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Tags         map[string]string `json:"tags"`
}

type format struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

// Parse converts ffprobe JSON output into MediaInfo.
func Parse(data []byte) (types.MediaInfo, error) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return types.MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var video *stream
	info := types.MediaInfo{AudioCodecs: []string{}, SubtitleLangs: []string{}}
	for i := range r.Streams {
		s := &r.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			if s.CodecName != "" {
				info.AudioCodecs = append(info.AudioCodecs, s.CodecName)
			}
		case "subtitle":
			if lang := s.Tags["language"]; lang != "" {
				info.SubtitleLangs = append(info.SubtitleLangs, lang)
			}
		}
	}

	duration := r.Format.Duration
	if duration == "" && video != nil {
		duration = video.Duration
	}
	info.DurationSec = parseFloat(duration)

	if video != nil {
		info.Width = video.Width
		info.Height = video.Height
		info.VideoCodec = video.CodecName
		rate := video.AvgFrameRate
		if rate == "" || rate == "0/0" {
			rate = video.RFrameRate
		}
		info.FPS = parseRate(rate)
	}

	tags := make(map[string]string, len(r.Format.Tags))
	for k, v := range r.Format.Tags {
		tags[strings.ToLower(k)] = v
	}
	for _, key := range []string{"encoded_by", "encodedby", "encoder"} {
		if v := tags[key]; v != "" {
			info.EncodedBy = v
			break
		}
	}
	info.EncodedBySpacesaver = strings.Contains(strings.ToLower(info.EncodedBy), "mediaspacesaver") ||
		strings.Contains(strings.ToLower(tags["comment"]), "spacesaver=1")

	return info, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// parseRate reads "num/den" frame rates. 0/0 and malformed values give 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return math.Round(n/d*1000) / 1000
}
