package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// EnvHandBrakePath overrides the HandBrakeCLI location.
const EnvHandBrakePath = "HANDBRAKECLI_PATH"

// ErrHandBrakeNotFound means no HandBrakeCLI binary could be located.
var ErrHandBrakeNotFound = errors.New("HandBrakeCLI not found")

const tailLines = 25

var handBrakeCandidates = []string{
	"/usr/local/bin/HandBrakeCLI",
	"/usr/bin/HandBrakeCLI",
	"/Applications/HandBrakeCLI",
	`C:\Program Files\HandBrake\HandBrakeCLI.exe`,
}

// FindHandBrake locates HandBrakeCLI: explicit path, $HANDBRAKECLI_PATH, PATH,
// then well-known install locations.
func FindHandBrake(explicit string) (string, error) {
	for _, p := range []string{strings.TrimSpace(explicit), strings.TrimSpace(os.Getenv(EnvHandBrakePath))} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	for _, name := range []string{"HandBrakeCLI", "HandBrakeCLI.exe"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	for _, p := range handBrakeCandidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrHandBrakeNotFound
}

// Encoder runs one transcode.
type Encoder interface {
	// Encode transcodes input into output, calling onLine for every output
	// line. It returns the tail of the output. When ctx is cancelled the
	// process is stopped and ctx's error is returned.
	Encode(ctx context.Context, input, output string, args []string, onLine func(string)) (string, error)
}

// HandBrake runs HandBrakeCLI.
type HandBrake struct {
	Binary string
	// KillGrace is how long a terminated process gets before SIGKILL.
	KillGrace time.Duration
}

// NewHandBrake returns an encoder for binary with a 5s kill grace.
func NewHandBrake(binary string) *HandBrake {
	return &HandBrake{Binary: binary, KillGrace: 5 * time.Second}
}

// Encode implements Encoder.
func (h *HandBrake) Encode(ctx context.Context, input, output string, args []string, onLine func(string)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	argv := append([]string{"-i", input, "-o", output}, args...)
	cmd := exec.Command(h.Binary, argv...)
	setProcessGroup(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return "", &TranscodeError{Err: fmt.Errorf("start %s: %w", h.Binary, err)}
	}

	exited := make(chan struct{})
	go h.stopOnCancel(ctx, cmd, exited)

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		close(exited)
		pw.Close()
		waitErr <- err
	}()

	tail := newTail(tailLines)
	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(scanLinesOrCR)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tail.add(line)
		if onLine != nil {
			onLine(line)
		}
	}
	// drain so Wait can finish if the scanner stopped early
	_, _ = io.Copy(io.Discard, pr)

	err := <-waitErr
	if ctx.Err() != nil {
		return tail.String(), ctx.Err()
	}
	if err != nil {
		te := &TranscodeError{Tail: tail.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		return te.Tail, te
	}
	return tail.String(), nil
}

// stopOnCancel terminates the process group when ctx ends and kills it if it
// is still running after KillGrace.
func (h *HandBrake) stopOnCancel(ctx context.Context, cmd *exec.Cmd, exited <-chan struct{}) {
	select {
	case <-exited:
		return
	case <-ctx.Done():
	}

	log.Info("Stopping encoder", "pid", cmd.Process.Pid)
	if err := terminateProcess(cmd); err != nil {
		log.Debug("Terminate failed", "pid", cmd.Process.Pid, "error", err)
	}

	grace := h.KillGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		log.Warn("Encoder ignored SIGTERM, killing", "pid", cmd.Process.Pid)
		if err := killProcess(cmd); err != nil {
			log.Debug("Kill failed", "pid", cmd.Process.Pid, "error", err)
		}
	}
}

// scanLinesOrCR splits on \n, \r\n or a bare \r. HandBrakeCLI redraws its
// progress line with carriage returns.
func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last n lines.
type tail struct {
	lines []string
	n     int
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	s := strings.Join(t.lines, "\n")
	if len(s) > 2000 {
		s = s[len(s)-2000:]
	}
	return s
}
