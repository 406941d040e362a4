package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const gib = int64(1024 * 1024 * 1024)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seqIDs() func(string) string {
	var mu sync.Mutex
	n := 0
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s_%04d", prefix, n)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return New(Options{Now: clock.Now, NewID: seqIDs()}), clock
}

func openTestStore(t *testing.T, dir string, clock *fakeClock) *Store {
	t.Helper()
	s, err := Open(Options{
		SnapshotPath: filepath.Join(dir, "state.json"),
		WALPath:      filepath.Join(dir, "state.wal"),
		SyncOnAppend: true,
		Now:          clock.Now,
		NewID:        NewID,
	})
	require.NoError(t, err)
	return s
}

func hdInfo() *types.MediaInfo {
	return &types.MediaInfo{DurationSec: 3600, Width: 1920, Height: 1080, VideoCodec: "h264"}
}

// addReadyItems creates one entry and marks one ready item per size.
func addReadyItems(t *testing.T, s *Store, sizes ...int64) (types.Entry, []types.Item) {
	t.Helper()
	entry, err := s.AddEntry("/media/movies", "", "")
	require.NoError(t, err)

	var found []Discovered
	for i, size := range sizes {
		found = append(found, Discovered{
			Path:        fmt.Sprintf("/media/movies/film%02d.mkv", i),
			SizeBytes:   size,
			MTime:       1700000000,
			Fingerprint: fmt.Sprintf("%d:1700000000", size),
			Info:        hdInfo(),
		})
	}
	_, err = s.UpsertItemsFromScan(entry.ID, nil, found)
	require.NoError(t, err)

	items, err := s.ListItems(ItemFilter{EntryID: entry.ID, Sort: SortPath})
	require.NoError(t, err)
	for i := range items {
		items[i], err = s.SetReady(items[i].ID, true)
		require.NoError(t, err)
	}
	return entry, items
}

func always([]types.WorkWindow) bool { return true }

func claim(t *testing.T, s *Store, workerID string) *types.Assignment {
	t.Helper()
	a, reason, err := s.Claim(workerID, workerID, always)
	require.NoError(t, err)
	require.NotNil(t, a, "expected an assignment, got reason %q", reason)
	return a
}

// ============================================================================
// Entries
// ============================================================================

func TestAddEntry(t *testing.T) {
	s, _ := newTestStore(t)

	e, err := s.AddEntry("/media/tv/", "", "--crop 0:0:0:0")
	require.NoError(t, err)
	assert.Equal(t, "tv", e.Name)
	assert.Equal(t, "/media/tv", e.Path)

	_, err = s.AddEntry("/media/tv", "dup", "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.AddEntry("  ", "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateEntryRejectsManagedPath(t *testing.T) {
	s, _ := newTestStore(t)

	movies, err := s.AddEntry("/media/movies", "", "")
	require.NoError(t, err)
	tv, err := s.AddEntry("/media/tv", "", "")
	require.NoError(t, err)

	path := "/media/movies/"
	_, err = s.UpdateEntry(tv.ID, EntryPatch{Path: &path})
	assert.ErrorIs(t, err, ErrConflict)

	e, err := s.UpdateEntry(movies.ID, EntryPatch{Path: &path})
	require.NoError(t, err)
	assert.Equal(t, "/media/movies", e.Path)

	got, err := s.GetEntry(tv.ID)
	require.NoError(t, err)
	assert.Equal(t, "/media/tv", got.Path)
}

func TestDeleteEntryCascadesItems(t *testing.T) {
	s, _ := newTestStore(t)
	entry, items := addReadyItems(t, s, 4*gib, 2*gib)

	a := claim(t, s, "w1")
	err := s.DeleteEntry(entry.ID)
	assert.ErrorIs(t, err, ErrConflict, "active job must block deletion")

	_, err = s.Complete(a.Job.ID, gib, nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteEntry(entry.ID))

	for _, it := range items {
		_, err := s.GetItem(it.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, err = s.GetJob(a.Job.ID)
	assert.NoError(t, err, "jobs stay as history")
	assert.NoError(t, s.CheckInvariants())
}

// ============================================================================
// Scan reconciliation
// ============================================================================

func TestUpsertItemsFromScan(t *testing.T) {
	s, _ := newTestStore(t)
	entry, err := s.AddEntry("/media/movies", "", "")
	require.NoError(t, err)

	res, err := s.UpsertItemsFromScan(entry.ID, nil, []Discovered{
		{Path: "/media/movies/a.mkv", SizeBytes: 4 * gib, Fingerprint: "a1", Info: hdInfo()},
		{Path: "/media/movies/b.mkv", SizeBytes: 2 * gib, Fingerprint: "b1", Info: hdInfo()},
	})
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Added: 2, Seen: 2}, res)

	items, err := s.ListItems(ItemFilter{Sort: SortPath})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, types.ItemIdle, items[0].Status)
	assert.Positive(t, items[0].Ratio.SavingsBytes)

	_, err = s.SetReady(items[0].ID, true)
	require.NoError(t, err)

	// a changes size, b disappears
	res, err = s.UpsertItemsFromScan(entry.ID, nil, []Discovered{
		{Path: "/media/movies/a.mkv", SizeBytes: 3 * gib, Fingerprint: "a2", Info: hdInfo()},
	})
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Updated: 1, Missing: 1, Seen: 1}, res)

	a, err := s.GetItem(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3*gib, a.SizeBytes)
	assert.True(t, a.Ready, "rescan keeps the ready flag")
	assert.Equal(t, types.ItemReady, a.Status)

	b, err := s.GetItem(items[1].ID)
	require.NoError(t, err)
	assert.True(t, b.Missing)

	e, err := s.GetEntry(entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, e.LastScanAt)
}

func TestScanDoesNotRevertCompletedItem(t *testing.T) {
	s, _ := newTestStore(t)
	entry, items := addReadyItems(t, s, 8*gib)
	a := claim(t, s, "w1")

	known := s.ItemFingerprints(entry.ID)
	walked := []Discovered{{
		Path:        items[0].Path,
		SizeBytes:   8 * gib,
		MTime:       1700000000,
		Fingerprint: items[0].SourceFingerprint,
		Info:        hdInfo(),
	}}

	// processing items are neither refreshed nor flagged missing
	res, err := s.UpsertItemsFromScan(entry.ID, known, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Missing)

	newFP := fmt.Sprintf("%d:1800000000", gib)
	_, err = s.Complete(a.Job.ID, gib, &FileRefresh{SizeBytes: gib, MTime: 1800000000, Fingerprint: newFP, Info: hdInfo()})
	require.NoError(t, err)
	done, err := s.GetItem(items[0].ID)
	require.NoError(t, err)

	// the walk read the pre-transcode file before Complete landed
	res, err = s.UpsertItemsFromScan(entry.ID, known, walked)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Seen: 1, Skipped: 1}, res)

	it, err := s.GetItem(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, gib, it.SizeBytes)
	assert.Equal(t, newFP, it.SourceFingerprint)
	assert.Equal(t, done.Ratio, it.Ratio)
	assert.Equal(t, types.ItemDone, it.Status)

	// a scan started after Complete sees the new file as unchanged
	res, err = s.UpsertItemsFromScan(entry.ID, s.ItemFingerprints(entry.ID), []Discovered{{
		Path: items[0].Path, SizeBytes: gib, MTime: 1800000000, Fingerprint: newFP,
	}})
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Seen: 1}, res)
	assert.NoError(t, s.CheckInvariants())
}

func TestMissingItemIsNotClaimed(t *testing.T) {
	s, _ := newTestStore(t)
	entry, _ := addReadyItems(t, s, 4*gib)

	_, err := s.UpsertItemsFromScan(entry.ID, nil, nil)
	require.NoError(t, err)

	a, reason, err := s.Claim("w1", "", always)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, types.ClaimNoWork, reason)
}

// ============================================================================
// Claim
// ============================================================================

func TestClaimPicksLargestSavings(t *testing.T) {
	s, _ := newTestStore(t)
	_, items := addReadyItems(t, s, 2*gib, 10*gib)

	a := claim(t, s, "w1")
	assert.Equal(t, items[1].ID, a.Item.ID)
	assert.Equal(t, types.JobClaimed, a.Job.Status)
	assert.Equal(t, types.ItemProcessing, a.Item.Status)
	assert.Equal(t, a.Job.ID, a.Item.LastJobID)
	assert.Equal(t, types.DefaultBaselineArgs, a.Args)

	b := claim(t, s, "w2")
	assert.Equal(t, items[0].ID, b.Item.ID)

	none, reason, err := s.Claim("w3", "", always)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Equal(t, types.ClaimNoWork, reason)

	_, err = s.GetWorker("w3")
	assert.NoError(t, err, "an empty claim still registers the worker")
	assert.NoError(t, s.CheckInvariants())
}

func TestClaimAppendsEntryArgs(t *testing.T) {
	s, _ := newTestStore(t)
	entry, _ := addReadyItems(t, s, 4*gib)
	args := "--crop 10:10:0:0"
	_, err := s.UpdateEntry(entry.ID, EntryPatch{Args: &args})
	require.NoError(t, err)

	a := claim(t, s, "w1")
	assert.Equal(t, types.DefaultBaselineArgs+" "+args, a.Args)
	assert.Equal(t, a.Args, a.Job.Args)
}

func TestClaimOffHoursChangesNothing(t *testing.T) {
	s, _ := newTestStore(t)
	addReadyItems(t, s, 4*gib)
	before := s.Document()

	a, reason, err := s.Claim("w1", "night-box", func([]types.WorkWindow) bool { return false })
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Equal(t, types.ClaimOffHours, reason)
	assert.Equal(t, before, s.Document())
}

func TestClaimUsesStoredWorkHours(t *testing.T) {
	s, _ := newTestStore(t)
	addReadyItems(t, s, 4*gib)

	windows := []types.WorkWindow{{Start: "22:00", End: "06:00"}}
	_, err := s.Heartbeat("w1", "night-box", windows)
	require.NoError(t, err)

	var got []types.WorkWindow
	_, _, err = s.Claim("w1", "", func(w []types.WorkWindow) bool {
		got = w
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, windows, got)
}

func TestConcurrentClaimsNeverShareAnItem(t *testing.T) {
	s, _ := newTestStore(t)
	sizes := make([]int64, 40)
	for i := range sizes {
		sizes[i] = int64(i+2) * gib
	}
	addReadyItems(t, s, sizes...)

	var (
		mu      sync.Mutex
		claimed = make(map[string]string)
		wg      sync.WaitGroup
		dupes   []string
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				a, _, err := s.Claim(workerID, "", always)
				if err != nil || a == nil {
					return
				}
				mu.Lock()
				if prev, ok := claimed[a.Item.ID]; ok {
					dupes = append(dupes, prev+"/"+a.Job.ID)
				}
				claimed[a.Item.ID] = a.Job.ID
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	assert.Empty(t, dupes)
	assert.Len(t, claimed, len(sizes))
	assert.NoError(t, s.CheckInvariants())
}

// ============================================================================
// Progress / complete / fail
// ============================================================================

func TestReportProgress(t *testing.T) {
	s, _ := newTestStore(t)
	addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	pct := 150.0
	eta := 90
	tail := "Encoding: task 1 of 1, 42.00 %"
	job, err := s.ReportProgress(types.ProgressRequest{JobID: a.Job.ID, Pct: &pct, EtaSec: &eta, LogTail: &tail})
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.Equal(t, 100.0, job.Progress.Pct)
	assert.Equal(t, 90, *job.Progress.EtaSec)
	assert.Equal(t, tail, job.Progress.LogTail)

	_, err = s.ReportProgress(types.ProgressRequest{JobID: "job_missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Complete(a.Job.ID, gib, nil)
	require.NoError(t, err)
	_, err = s.ReportProgress(types.ProgressRequest{JobID: a.Job.ID, Pct: &pct})
	assert.ErrorIs(t, err, ErrNotFound, "terminal jobs take no progress")
}

func TestCompleteRefreshesItem(t *testing.T) {
	s, _ := newTestStore(t)
	_, items := addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	info := hdInfo()
	info.VideoCodec = "hevc"
	info.EncodedBySpacesaver = true
	job, err := s.Complete(a.Job.ID, gib, &FileRefresh{SizeBytes: gib, MTime: 1800000000, Fingerprint: "1:1800000000", Info: info})
	require.NoError(t, err)
	assert.Equal(t, types.JobDone, job.Status)
	assert.NotNil(t, job.FinishedAt)

	it, err := s.GetItem(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemDone, it.Status)
	assert.False(t, it.Ready)
	assert.Equal(t, 1, it.TranscodeCount)
	assert.Equal(t, gib, it.SizeBytes)
	assert.Equal(t, "hevc", it.VideoCodec)
	assert.True(t, it.EncodedBySpacesaver)
	assert.Less(t, it.Ratio.SavingsBytes, items[0].Ratio.SavingsBytes)

	_, err = s.Complete(a.Job.ID, gib, nil)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.Fail(a.Job.ID, "late")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, s.CheckInvariants())
}

func TestFailThenReset(t *testing.T) {
	s, _ := newTestStore(t)
	_, items := addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	_, err := s.ResetItem(items[0].ID)
	assert.ErrorIs(t, err, ErrConflict, "reset is refused while a job is active")

	_, err = s.SetReady(items[0].ID, false)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = s.Fail(a.Job.ID, "HandBrake exited with code 3")
	require.NoError(t, err)

	it, err := s.GetItem(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemFailed, it.Status)
	assert.Equal(t, "HandBrake exited with code 3", it.LastError)

	it, err = s.ResetItem(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemIdle, it.Status)
	assert.Empty(t, it.LastError)

	it, err = s.SetReady(items[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.ItemReady, it.Status)

	b := claim(t, s, "w1")
	assert.Equal(t, items[0].ID, b.Item.ID, "no automatic requeue, but a reset item is claimable again")
}

// ============================================================================
// Cancellation
// ============================================================================

func TestCancelAllCountsNonTerminalJobs(t *testing.T) {
	s, _ := newTestStore(t)
	addReadyItems(t, s, 2*gib, 3*gib, 4*gib, 5*gib)

	var jobs []string
	for i := 0; i < 4; i++ {
		jobs = append(jobs, claim(t, s, "w1").Job.ID)
	}
	pct := 10.0
	for _, id := range jobs[:3] {
		_, err := s.ReportProgress(types.ProgressRequest{JobID: id, Pct: &pct})
		require.NoError(t, err)
	}
	_, err := s.Complete(jobs[3], gib, nil)
	require.NoError(t, err)

	n, err := s.CancelAll()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range jobs[:3] {
		j, err := s.GetJob(id)
		require.NoError(t, err)
		assert.True(t, j.CancelRequested)
		assert.Equal(t, types.JobRunning, j.Status, "cancel never changes status")
	}
	done, err := s.GetJob(jobs[3])
	require.NoError(t, err)
	assert.False(t, done.CancelRequested)
}

func TestRequestCancel(t *testing.T) {
	s, _ := newTestStore(t)
	addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	j, err := s.RequestCancel(a.Job.ID)
	require.NoError(t, err)
	assert.True(t, j.CancelRequested)

	j, err = s.RequestCancel(a.Job.ID)
	require.NoError(t, err)
	assert.True(t, j.CancelRequested)

	_, err = s.Fail(a.Job.ID, "Cancelled by user")
	require.NoError(t, err)
	_, err = s.RequestCancel(a.Job.ID)
	assert.NoError(t, err)

	_, err = s.RequestCancel("job_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteItemWithActiveJob(t *testing.T) {
	s, _ := newTestStore(t)
	_, items := addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	err := s.DeleteItem(items[0].ID, true)
	assert.ErrorIs(t, err, ErrConflict)

	j, err := s.GetJob(a.Job.ID)
	require.NoError(t, err)
	assert.True(t, j.CancelRequested)

	_, err = s.Fail(a.Job.ID, "Cancelled by user")
	require.NoError(t, err)
	require.NoError(t, s.DeleteItem(items[0].ID, false))
	assert.NoError(t, s.CheckInvariants())
}

func TestDeleteJob(t *testing.T) {
	s, _ := newTestStore(t)
	_, items := addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	assert.ErrorIs(t, s.DeleteJob(a.Job.ID), ErrConflict)
	_, err := s.Fail(a.Job.ID, "boom")
	require.NoError(t, err)
	require.NoError(t, s.DeleteJob(a.Job.ID))

	it, err := s.GetItem(items[0].ID)
	require.NoError(t, err)
	assert.Empty(t, it.LastJobID)
}

// ============================================================================
// Workers
// ============================================================================

func TestHeartbeatAndListWorkers(t *testing.T) {
	s, clock := newTestStore(t)

	_, err := s.Heartbeat("w1", "box-1", nil)
	require.NoError(t, err)
	_, err = s.Heartbeat("w2", "box-2", []types.WorkWindow{{Start: "25:00", End: "06:00"}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Heartbeat("bad id", "", nil)
	assert.ErrorIs(t, err, ErrValidation)

	clock.Advance(2 * time.Minute)
	_, err = s.Heartbeat("w2", "box-2", []types.WorkWindow{{Start: "09:00", End: "17:00"}})
	require.NoError(t, err)

	views := s.ListWorkers(time.Minute)
	require.Len(t, views, 2)
	assert.Equal(t, "box-1", views[0].Name)
	assert.False(t, views[0].Online)
	assert.True(t, views[0].WithinWorkHours)
	assert.True(t, views[1].Online)
	assert.Equal(t, 1, s.OnlineWorkers(time.Minute))

	// nil windows keep what is stored
	w, err := s.Heartbeat("w2", "", nil)
	require.NoError(t, err)
	assert.Len(t, w.WorkHours, 1)
	assert.Equal(t, "box-2", w.Name)
}

func TestDeleteWorker(t *testing.T) {
	s, _ := newTestStore(t)
	addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")

	assert.ErrorIs(t, s.DeleteWorker("w1", false), ErrConflict)
	_, err := s.Complete(a.Job.ID, gib, nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteWorker("w1", false))
	assert.ErrorIs(t, s.DeleteWorker("w1", false), ErrNotFound)
}

// ============================================================================
// Config
// ============================================================================

func TestUpdateTargetsRecomputesRatios(t *testing.T) {
	s, _ := newTestStore(t)
	_, items := addReadyItems(t, s, 4*gib)

	_, err := s.UpdateConfig(ConfigPatch{TargetMbPerMinByHeight: map[int]float64{1080: 40}})
	require.NoError(t, err)

	it, err := s.GetItem(items[0].ID)
	require.NoError(t, err)
	assert.Less(t, it.Ratio.SavingsBytes, items[0].Ratio.SavingsBytes)

	_, err = s.UpdateConfig(ConfigPatch{TargetMbPerMinByHeight: map[int]float64{1080: -1}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddTargetSample(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.AddTargetSample(1080, 12)
	require.NoError(t, err)
	assert.Equal(t, TargetSample{Height: 1080, Count: 1, Avg: 12}, res)

	res, err = s.AddTargetSample(1080, 13.15)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 12.6, res.Avg)
	assert.Equal(t, 12.6, s.Config().TargetMbPerMinByHeight[1080])

	cfg, err := s.ClearTargetSamples()
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTargets(), cfg.TargetMbPerMinByHeight)
	assert.Empty(t, cfg.TargetSamplesByHeight)
}

// ============================================================================
// Persistence
// ============================================================================

func TestReopenReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	s := openTestStore(t, dir, clock)
	_, items := addReadyItems(t, s, 2*gib, 6*gib)
	a := claim(t, s, "w1")
	pct := 50.0
	_, err := s.ReportProgress(types.ProgressRequest{JobID: a.Job.ID, Pct: &pct})
	require.NoError(t, err)

	// no Close: the second open sees only the journal
	r := openTestStore(t, dir, clock)

	job, err := r.GetJob(a.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, job.Status)
	assert.Equal(t, 50.0, job.Progress.Pct)

	it, err := r.GetItem(items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemProcessing, it.Status)
	assert.NoError(t, r.CheckInvariants())

	// the reopened store still refuses to hand the same item out twice
	b := claim(t, r, "w2")
	assert.Equal(t, items[0].ID, b.Item.ID)
	require.NoError(t, r.Close())
}

func TestCloseWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()

	s := openTestStore(t, dir, clock)
	entry, _ := addReadyItems(t, s, 4*gib)
	a := claim(t, s, "w1")
	_, err := s.Complete(a.Job.ID, gib, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	r := openTestStore(t, dir, clock)
	defer r.Close()

	assert.Equal(t, s.Document(), r.Document())
	_, err = r.GetEntry(entry.ID)
	assert.NoError(t, err)
}

func TestCompactEvery(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()
	s, err := Open(Options{
		SnapshotPath: filepath.Join(dir, "state.json"),
		WALPath:      filepath.Join(dir, "state.wal"),
		CompactEvery: 3,
		Now:          clock.Now,
	})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		_, err := s.AddEntry(fmt.Sprintf("/media/%d", i), "", "")
		require.NoError(t, err)
	}
	assert.Less(t, s.wal.Count(), 3)
	assert.FileExists(t, filepath.Join(dir, "state.json"))

	r := openTestStore(t, dir, clock)
	defer r.Close()
	assert.Len(t, r.ListEntries(), 5)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, newFakeClock())
	require.NoError(t, s.Close())

	_, err := s.AddEntry("/media/x", "", "")
	assert.Error(t, err)
}
