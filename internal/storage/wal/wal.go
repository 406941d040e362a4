package wal

// ============================================================================
// WAL core
// Responsibilities:
// 1. Append committed transactions to the log (append-only, one line each)
// 2. Replay the log to rebuild state after a restart
// 3. Rotate the log once a snapshot covers everything in it
// 4. Drop a torn trailing record left by a crash mid-write
// ============================================================================

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
)

var log = logging.Logger()

// logFile is the subset of *os.File the log writes through.
type logFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Close() error
}

// WAL is an append-only transaction log.
type WAL struct {
	mu           sync.Mutex
	file         logFile
	path         string
	seq          uint64 // last written sequence number
	size         int64  // bytes of valid records
	count        int    // events since the last rotate
	syncOnAppend bool
	closed       bool
	failed       error // set when a rejected record could not be removed
}

/*
NewWAL opens or creates a WAL.

Behavior:
- A missing file is created and seq starts at 0
- An existing file is scanned to recover seq and the event count
- A torn trailing record (crash mid-append) is truncated away
- Corruption before the tail is reported as a *CorruptionError
*/
func NewWAL(path string, syncOnAppend bool) (*WAL, error) {
	st, err := inspect(path)
	if err != nil {
		return nil, err
	}
	if st.torn {
		log.Warn("Dropping torn WAL tail", "path", path, "valid_bytes", st.size)
		if err := os.Truncate(path, st.size); err != nil {
			return nil, fmt.Errorf("wal: truncate torn tail: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	return &WAL{
		file:         file,
		path:         path,
		seq:          st.lastSeq,
		size:         st.size,
		count:        st.events,
		syncOnAppend: syncOnAppend,
	}, nil
}

// Append writes one transaction and returns its sequence number.
//
// With syncOnAppend the record is fsynced before Append returns. A failed
// write or sync is truncated away so a rejected record is never replayed.
// If that truncate fails the log refuses every later append.
func (w *WAL) Append(changes []Change) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}
	if w.failed != nil {
		return 0, w.failed
	}
	if len(changes) == 0 {
		return 0, ErrEmptyEvent
	}

	event := Event{
		Seq:       w.seq + 1,
		Timestamp: time.Now().UnixMilli(),
		Changes:   changes,
	}
	event.Checksum = CalculateChecksum(event)

	line, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("wal: encode event: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		w.discardTail(event.Seq)
		return 0, fmt.Errorf("wal: append seq=%d: %w", event.Seq, err)
	}
	if w.syncOnAppend {
		if err := w.file.Sync(); err != nil {
			w.discardTail(event.Seq)
			return 0, fmt.Errorf("wal: sync seq=%d: %w", event.Seq, err)
		}
	}

	w.seq = event.Seq
	w.size += int64(len(line))
	w.count++
	return event.Seq, nil
}

// discardTail cuts the file back to the last accepted record.
func (w *WAL) discardTail(seq uint64) {
	if err := w.file.Truncate(w.size); err != nil {
		log.Error("Failed to truncate rejected WAL record", "seq", seq, "error", err)
		w.failed = fmt.Errorf("%w: seq=%d: %v", ErrWALFailed, seq, err)
	}
}

// Replay reads every event from the start of the log and hands it to handler.
// It stops at the first checksum mismatch, decode failure or handler error.
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	return readEvents(file, func(event Event, _ int64, _ bool) error {
		if !VerifyChecksum(event) {
			return &ChecksumError{Seq: event.Seq, Expected: CalculateChecksum(event), Actual: event.Checksum}
		}
		return handler(event)
	})
}

// Rotate starts an empty log. The previous generation is kept as <path>.prev.
// Callers rotate only after a snapshot covering every event has been written.
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(w.path, w.path+".prev"); err != nil {
		return fmt.Errorf("wal: rotate: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		w.closed = true
		return fmt.Errorf("wal: reopen after rotate: %w", err)
	}

	w.file = file
	w.failed = nil
	w.seq = 0
	w.size = 0
	w.count = 0
	return nil
}

// Close syncs and closes the log. A closed WAL cannot be reused.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// GetLastSeq returns the sequence number of the last appended event.
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Count returns the number of events appended since the last rotate.
func (w *WAL) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.path
}

// ============================================================================
// Internal helpers
// ============================================================================

type fileState struct {
	size    int64 // bytes covered by complete, decodable records
	lastSeq uint64
	events  int
	torn    bool
}

func inspect(path string) (fileState, error) {
	var st fileState

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer file.Close()

	err = readEvents(file, func(event Event, end int64, _ bool) error {
		st.size = end
		st.lastSeq = event.Seq
		st.events++
		return nil
	})

	var ce *CorruptionError
	if errors.As(err, &ce) && isTail(ce) {
		st.torn = true
		return st, nil
	}
	return st, err
}

// tailError marks a decode failure on the final line of the file.
type tailError struct{ cause error }

func (e tailError) Error() string { return e.cause.Error() }
func (e tailError) Unwrap() error { return e.cause }

func isTail(ce *CorruptionError) bool {
	var te tailError
	return errors.As(ce.Cause, &te)
}

// readEvents decodes one event per line. fn receives the byte offset just past
// the event and whether the line was newline terminated.
func readEvents(r io.Reader, fn func(event Event, end int64, terminated bool) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var offset int64
	lineNo := 0

	for {
		line, err := br.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}
		lineNo++
		terminated := err == nil
		start := offset
		offset += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		var event Event
		if decErr := json.Unmarshal(trimmed, &event); decErr != nil || !terminated {
			if decErr == nil {
				decErr = io.ErrUnexpectedEOF
			}
			var cause error = decErr
			if _, peekErr := br.Peek(1); peekErr == io.EOF {
				cause = tailError{cause: decErr}
			}
			return &CorruptionError{Line: lineNo, Offset: start, Cause: cause}
		}
		if fnErr := fn(event, offset, terminated); fnErr != nil {
			return fnErr
		}
	}
}
