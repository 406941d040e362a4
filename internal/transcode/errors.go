package transcode

import (
	"errors"
	"fmt"
	"strings"
)

// CancelledByUser is the reason recorded when an operator cancelled the job.
const CancelledByUser = "Cancelled by user"

var (
	// ErrOutputMissing means the encoder exited cleanly but produced no file.
	ErrOutputMissing = errors.New("output missing")
	// ErrOutputEmpty means the encoder produced a zero-byte file.
	ErrOutputEmpty = errors.New("output is empty")
	// ErrOutputTruncated means the output is shorter than the source.
	ErrOutputTruncated = errors.New("output is truncated")

	errCancelRequested = errors.New("cancel requested")
)

// TranscodeError is a failed encoder run. Tail holds its last output lines.
type TranscodeError struct {
	ExitCode int
	Tail     string
	Err      error
}

func (e *TranscodeError) Error() string {
	if e.Tail != "" {
		return e.Tail
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("HandBrakeCLI exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("HandBrakeCLI failed: %v", e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// CancellationError is a job stopped before it finished, either by the
// operator or by the worker shutting down.
type CancellationError struct {
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return CancelledByUser
	}
	return e.Reason
}

// StepError names the workflow step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// FailureText is the error text reported to the server for err.
func FailureText(err error) string {
	var cancelled *CancellationError
	if errors.As(err, &cancelled) {
		return "cancelled: " + cancelled.Error()
	}
	var te *TranscodeError
	if errors.As(err, &te) {
		return "transcode failed: " + strings.TrimSpace(te.Error())
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Step + " failed: " + se.Err.Error()
	}
	return err.Error()
}
