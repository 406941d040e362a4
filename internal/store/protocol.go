package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/ranking"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// GateFunc decides whether a worker with the given windows may claim now.
type GateFunc func(windows []types.WorkWindow) bool

// FileRefresh is the state of an item's file after its job replaced it.
// It is gathered outside the lock (stat + probe) and applied by Complete.
type FileRefresh struct {
	SizeBytes   int64
	MTime       int64
	Fingerprint string
	Info        *types.MediaInfo
	ProbeErr    string
}

// Claim atomically hands the best ranked ready item to a worker.
//
// If gate rejects the worker's stored windows, Claim returns reason
// types.ClaimOffHours without changing anything. Otherwise, in one critical
// section, it upserts the worker, ranks every eligible item, creates a claimed
// job for the best one and marks that item processing. When nothing is
// eligible the worker is still refreshed and reason is types.ClaimNoWork.
func (s *Store) Claim(workerID, workerName string, gate GateFunc) (*types.Assignment, string, error) {
	if err := validateID("worker", workerID); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var windows []types.WorkWindow
	if w, ok := s.workers[workerID]; ok {
		windows = w.WorkHours
	}
	if gate != nil && !gate(windows) {
		return nil, types.ClaimOffHours, nil
	}

	now := s.now()
	worker := s.touchWorkerLocked(workerID, workerName, nil, now)

	tx := s.begin()
	tx.putWorker(worker)

	best := s.bestCandidateLocked()
	if best == nil {
		if err := tx.commit(); err != nil {
			return nil, "", err
		}
		return nil, types.ClaimNoWork, nil
	}

	entry := s.entries[best.EntryID]
	args := strings.TrimSpace(s.config.BaselineArgs + " " + entry.Args)

	job := types.Job{
		ID:        s.opts.NewID("job"),
		ItemID:    best.ID,
		WorkerID:  workerID,
		Status:    types.JobClaimed,
		Args:      args,
		ClaimedAt: now,
	}
	item := *best
	item.Status = types.ItemProcessing
	item.LastJobID = job.ID
	item.Ratio = ranking.ForItem(&item, s.config.TargetMbPerMinByHeight)

	tx.putJob(job)
	tx.putItem(item)
	if err := tx.commit(); err != nil {
		return nil, "", err
	}

	log.Info("Job claimed",
		"jobID", job.ID,
		"itemID", item.ID,
		"workerID", workerID,
		"savings_bytes", item.Ratio.SavingsBytes)
	return &types.Assignment{Job: job, Item: item, Entry: *entry, Args: args}, "", nil
}

// bestCandidateLocked ranks eligible items on freshly computed ratios.
func (s *Store) bestCandidateLocked() *types.Item {
	targets := s.config.TargetMbPerMinByHeight
	var candidates []*types.Item
	for _, it := range s.items {
		if !s.claimableLocked(it) {
			continue
		}
		c := *it
		c.Ratio = ranking.ForItem(&c, targets)
		candidates = append(candidates, &c)
	}
	best := ranking.Best(candidates)
	if best == nil {
		return nil
	}
	return s.items[best.ID]
}

func (s *Store) claimableLocked(it *types.Item) bool {
	if !it.Ready || it.Missing {
		return false
	}
	if it.Status != types.ItemReady && it.Status != types.ItemIdle {
		return false
	}
	if _, active := s.activeJobByItem[it.ID]; active {
		return false
	}
	_, hasEntry := s.entries[it.EntryID]
	return hasEntry
}

// Heartbeat upserts a worker and refreshes its liveness. A nil windows slice
// keeps the stored work hours; an empty one clears them.
func (s *Store) Heartbeat(workerID, workerName string, windows []types.WorkWindow) (types.Worker, error) {
	if err := validateID("worker", workerID); err != nil {
		return types.Worker{}, err
	}
	if err := validateWindows(windows); err != nil {
		return types.Worker{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	worker := s.touchWorkerLocked(workerID, workerName, windows, s.now())
	tx := s.begin()
	tx.putWorker(worker)
	if err := tx.commit(); err != nil {
		return types.Worker{}, err
	}
	return worker, nil
}

func (s *Store) touchWorkerLocked(id, name string, windows []types.WorkWindow, now time.Time) types.Worker {
	var w types.Worker
	if cur, ok := s.workers[id]; ok {
		w = *cur
	} else {
		w = types.Worker{ID: id, Name: id}
		log.Info("Worker registered", "workerID", id)
	}
	if name = strings.TrimSpace(name); name != "" {
		w.Name = name
	}
	if windows != nil {
		w.WorkHours = append([]types.WorkWindow{}, windows...)
	}
	w.LastHeartbeatAt = now
	return w
}

// ReportProgress records progress for an active job and flips a claimed job to
// running on its first report. Unknown and terminal jobs are ErrNotFound.
func (s *Store) ReportProgress(req types.ProgressRequest) (types.Job, error) {
	if req.Pct != nil && (math.IsNaN(*req.Pct) || math.IsInf(*req.Pct, 0)) {
		return types.Job{}, fmt.Errorf("%w: pct must be a finite number", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[req.JobID]
	if !ok || cur.Status.IsTerminal() {
		return types.Job{}, fmt.Errorf("%w: active job %s", ErrNotFound, req.JobID)
	}

	now := s.now()
	next := *cur
	if next.Status == types.JobClaimed {
		next.Status = types.JobRunning
		next.StartedAt = &now
	}
	if req.Pct != nil {
		next.Progress.Pct = math.Max(0, math.Min(100, *req.Pct))
	}
	if req.EtaSec != nil {
		eta := *req.EtaSec
		if eta < 0 {
			eta = 0
		}
		next.Progress.EtaSec = &eta
	}
	if req.LogTail != nil {
		next.Progress.LogTail = truncateTail(*req.LogTail)
	}

	tx := s.begin()
	tx.putJob(next)
	if err := tx.commit(); err != nil {
		return types.Job{}, err
	}
	return next, nil
}

// Complete finalizes a job as done and the item as done with refreshed size
// and ratio. refresh may be nil when the file could not be inspected, in which
// case outputSize is used as the new size.
func (s *Store) Complete(jobID string, outputSize int64, refresh *FileRefresh) (types.Job, error) {
	if outputSize < 0 {
		return types.Job{}, fmt.Errorf("%w: output size cannot be negative", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[jobID]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if cur.Status.IsTerminal() {
		return types.Job{}, fmt.Errorf("%w: job %s is already %s", ErrConflict, jobID, cur.Status)
	}

	now := s.now()
	job := *cur
	job.Status = types.JobDone
	job.FinishedAt = &now
	job.OutputSizeBytes = outputSize
	job.Progress.Pct = 100

	tx := s.begin()
	tx.putJob(job)

	if it, ok := s.items[job.ItemID]; ok {
		item := *it
		item.Status = types.ItemDone
		item.Ready = false
		item.LastError = ""
		item.TranscodeCount++
		item.LastTranscodeAt = &now
		item.LastJobID = job.ID
		switch {
		case refresh != nil:
			item.SizeBytes = refresh.SizeBytes
			item.MTime = refresh.MTime
			item.SourceFingerprint = refresh.Fingerprint
			if refresh.Info != nil {
				item.MediaInfo = *refresh.Info
			}
			item.ProbeError = refresh.ProbeErr
		case outputSize > 0:
			item.SizeBytes = outputSize
		}
		item.ScanAt = &now
		item.Ratio = ranking.ForItem(&item, s.config.TargetMbPerMinByHeight)
		tx.putItem(item)
	}

	if err := tx.commit(); err != nil {
		return types.Job{}, err
	}
	log.Info("Job completed", "jobID", job.ID, "itemID", job.ItemID, "output_bytes", outputSize)
	return job, nil
}

// Fail finalizes a job as failed and leaves the item failed with lastError.
// There is no requeue.
func (s *Store) Fail(jobID, errText string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[jobID]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if cur.Status.IsTerminal() {
		return types.Job{}, fmt.Errorf("%w: job %s is already %s", ErrConflict, jobID, cur.Status)
	}

	errText = strings.TrimSpace(errText)
	if errText == "" {
		errText = "unknown error"
	}

	now := s.now()
	job := *cur
	job.Status = types.JobFailed
	job.FinishedAt = &now
	job.Error = errText

	tx := s.begin()
	tx.putJob(job)
	if it, ok := s.items[job.ItemID]; ok {
		item := *it
		item.Status = types.ItemFailed
		item.Ready = false
		item.LastError = errText
		item.LastJobID = job.ID
		tx.putItem(item)
	}
	if err := tx.commit(); err != nil {
		return types.Job{}, err
	}
	log.Warn("Job failed", "jobID", job.ID, "itemID", job.ItemID, "error", errText)
	return job, nil
}

// RequestCancel flags a job for cancellation. It is idempotent, a no-op on
// terminal jobs and never changes job status.
func (s *Store) RequestCancel(jobID string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return types.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err := s.flagCancelLocked(jobID); err != nil {
		return types.Job{}, err
	}
	return *s.jobs[jobID], nil
}

func (s *Store) flagCancelLocked(jobID string) error {
	cur := s.jobs[jobID]
	if cur.Status.IsTerminal() || cur.CancelRequested {
		return nil
	}
	next := *cur
	next.CancelRequested = true
	tx := s.begin()
	tx.putJob(next)
	if err := tx.commit(); err != nil {
		return err
	}
	log.Info("Cancel requested", "jobID", jobID, "workerID", next.WorkerID)
	return nil
}

// CancelAll flags every non-terminal job and returns how many there were.
func (s *Store) CancelAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	count := 0
	for _, j := range sortedByID(s.jobs) {
		if j.Status.IsTerminal() {
			continue
		}
		count++
		if j.CancelRequested {
			continue
		}
		next := *j
		next.CancelRequested = true
		tx.putJob(next)
	}
	if err := tx.commit(); err != nil {
		return 0, err
	}
	if count > 0 {
		log.Info("Cancel requested for all active jobs", "count", count)
	}
	return count, nil
}

// GetJob returns one job.
func (s *Store) GetJob(id string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return *j, nil
}

// ListJobs returns every job, newest claim first, with item and worker details.
func (s *Store) ListJobs() []types.JobView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.JobView, 0, len(s.jobs))
	for _, j := range s.jobs {
		v := types.JobView{Job: *j}
		if it, ok := s.items[j.ItemID]; ok {
			v.ItemPath = it.Path
			v.ItemStatus = it.Status
		}
		if w, ok := s.workers[j.WorkerID]; ok {
			v.WorkerName = w.Name
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClaimedAt.Equal(out[j].ClaimedAt) {
			return out[i].ClaimedAt.After(out[j].ClaimedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DeleteJob removes a terminal job from history and clears lastJobId on items
// pointing at it. An active job is flagged for cancellation instead and the
// call fails with ErrConflict.
func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if !j.Status.IsTerminal() {
		if err := s.flagCancelLocked(id); err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s is %s, cancellation requested", ErrConflict, id, j.Status)
	}

	tx := s.begin()
	tx.deleteJob(id)
	for _, it := range sortedByID(s.items) {
		if it.LastJobID != id {
			continue
		}
		next := *it
		next.LastJobID = ""
		tx.putItem(next)
	}
	return tx.commit()
}

// ArchivableJobs returns terminal jobs finished before cutoff, skipping the
// newest keep terminal jobs. Oldest first.
func (s *Store) ArchivableJobs(cutoff time.Time, keep int) []types.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var terminal []types.Job
	for _, j := range s.jobs {
		if j.Status.IsTerminal() && j.FinishedAt != nil {
			terminal = append(terminal, *j)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		a, b := terminal[i].FinishedAt, terminal[j].FinishedAt
		if !a.Equal(*b) {
			return a.After(*b)
		}
		return terminal[i].ID < terminal[j].ID
	})
	if keep < 0 {
		keep = 0
	}
	if keep >= len(terminal) {
		return nil
	}

	var out []types.Job
	for _, j := range terminal[keep:] {
		if j.FinishedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.Before(*out[j].FinishedAt) })
	return out
}

// PurgeJobs removes archived jobs from state. Only terminal jobs are removed;
// item references are kept so history stays resolvable through the archive.
func (s *Store) PurgeJobs(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	n := 0
	for _, id := range ids {
		j, ok := s.jobs[id]
		if !ok || !j.Status.IsTerminal() {
			continue
		}
		tx.deleteJob(id)
		n++
	}
	if err := tx.commit(); err != nil {
		return 0, err
	}
	return n, nil
}
