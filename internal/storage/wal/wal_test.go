package wal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putChange(kind Kind, key, value string) Change {
	data, _ := json.Marshal(map[string]string{"v": value})
	return Change{Op: OpPut, Kind: kind, Key: key, Data: data}
}

func collect(t *testing.T, w *WAL) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, w.Replay(func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w.Close()

	seq, err := w.Append([]Change{putChange(KindItem, "itm_1", "a"), putChange(KindJob, "job_1", "b")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = w.Append([]Change{{Op: OpDelete, Kind: KindJob, Key: "job_1"}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	events := collect(t, w)
	require.Len(t, events, 2)
	assert.Len(t, events[0].Changes, 2)
	assert.Equal(t, OpDelete, events[1].Changes[0].Op)
	assert.Equal(t, 2, w.Count())
}

func TestAppendRejectsEmptyEvent(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "state.wal"), false)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(nil)
	assert.ErrorIs(t, err, ErrEmptyEvent)
}

func TestReopenRecoversSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := w.Append([]Change{putChange(KindEntry, "ent_1", "x")})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	w2, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, uint64(3), w2.GetLastSeq())
	seq, err := w2.Append([]Change{putChange(KindEntry, "ent_1", "y")})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestTornTailIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	_, err = w.Append([]Change{putChange(KindItem, "itm_1", "a")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"timestamp":1,"chan`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w2.Close()

	events := collect(t, w2)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), w2.GetLastSeq())

	_, err = w2.Append([]Change{putChange(KindItem, "itm_2", "b")})
	require.NoError(t, err)
	assert.Len(t, collect(t, w2), 2)
}

func TestCorruptionBeforeTailFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	_, err = w.Append([]Change{putChange(KindItem, "itm_1", "a")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := append([]byte("not json\n"), data...)
	require.NoError(t, os.WriteFile(path, corrupted, 0o644))

	_, err = NewWAL(path, true)
	assert.ErrorIs(t, err, ErrCorruptedWAL)
}

func TestReplayDetectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append([]Change{putChange(KindItem, "itm_1", "a")})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	event.Changes[0].Key = "itm_2"
	tampered, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(tampered, '\n'), 0o644))

	err = w.Replay(func(Event) error { return nil })
	var ce *ChecksumError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(1), ce.Seq)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestRotateStartsEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append([]Change{putChange(KindWorker, "wrk_a", "a")})
	require.NoError(t, err)
	require.NoError(t, w.Rotate())

	assert.Empty(t, collect(t, w))
	assert.Equal(t, 0, w.Count())
	assert.FileExists(t, path+".prev")

	_, err = w.Append([]Change{putChange(KindWorker, "wrk_b", "b")})
	require.NoError(t, err)
	assert.Len(t, collect(t, w), 1)
}

func TestClosedWALRejectsAppend(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "state.wal"), false)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Append([]Change{putChange(KindItem, "itm_1", "a")})
	assert.ErrorIs(t, err, ErrWALClosed)
}

type syncFailFile struct {
	*os.File
	failSync     bool
	failTruncate bool
}

func (f *syncFailFile) Sync() error {
	if f.failSync {
		return errors.New("disk gone")
	}
	return f.File.Sync()
}

func (f *syncFailFile) Truncate(size int64) error {
	if f.failTruncate {
		return errors.New("read-only")
	}
	return f.File.Truncate(size)
}

func TestFailedSyncDropsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append([]Change{putChange(KindItem, "itm_1", "a")})
	require.NoError(t, err)

	f := &syncFailFile{File: w.file.(*os.File), failSync: true}
	w.file = f
	_, err = w.Append([]Change{putChange(KindItem, "itm_2", "b")})
	require.Error(t, err)

	f.failSync = false
	seq, err := w.Append([]Change{putChange(KindItem, "itm_3", "c")})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	require.NoError(t, w.Close())
	reopened, err := NewWAL(path, true)
	require.NoError(t, err)
	defer reopened.Close()

	events := collect(t, reopened)
	require.Len(t, events, 2)
	assert.Equal(t, "itm_1", events[0].Changes[0].Key)
	assert.Equal(t, "itm_3", events[1].Changes[0].Key)
}

func TestUntruncatableRecordFailsLog(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "state.wal"), true)
	require.NoError(t, err)
	defer w.Close()

	w.file = &syncFailFile{File: w.file.(*os.File), failSync: true, failTruncate: true}
	_, err = w.Append([]Change{putChange(KindItem, "itm_1", "a")})
	require.Error(t, err)

	_, err = w.Append([]Change{putChange(KindItem, "itm_2", "b")})
	assert.ErrorIs(t, err, ErrWALFailed)
}
