// Package types defines the core domain model shared by the spacesaver server and workers.
package types

import (
	"time"
)

// ItemStatus is the lifecycle state of a discovered media file.
type ItemStatus string

const (
	ItemIdle       ItemStatus = "idle"       // discovered, not opted in
	ItemReady      ItemStatus = "ready"      // opted in, waiting for a worker
	ItemProcessing ItemStatus = "processing" // exactly one active job references it
	ItemDone       ItemStatus = "done"       // last job completed
	ItemFailed     ItemStatus = "failed"     // last job failed, waits for an operator
)

// JobStatus is the lifecycle state of a claim.
type JobStatus string

const (
	JobClaimed JobStatus = "claimed" // created by a claim, no progress yet
	JobRunning JobStatus = "running" // first progress report received
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// IsTerminal reports whether the job can no longer change status.
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobFailed
}

// Ratio is the stored savings estimate used for prioritization.
type Ratio struct {
	TargetBytes  int64   `json:"targetBytes"`
	SavingsBytes int64   `json:"savingsBytes"`
	SavingsPct   float64 `json:"savingsPct"`
}

// Entry is a root folder under management.
type Entry struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Args       string     `json:"args"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	LastScanAt *time.Time `json:"lastScanAt,omitempty"`
}

// MediaInfo is what the metadata prober knows about a file.
type MediaInfo struct {
	DurationSec         float64  `json:"durationSec"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	FPS                 float64  `json:"fps"`
	VideoCodec          string   `json:"videoCodec"`
	AudioCodecs         []string `json:"audioCodecs"`
	SubtitleLangs       []string `json:"subtitleLangs"`
	EncodedBy           string   `json:"encodedBy"`
	EncodedBySpacesaver bool     `json:"encodedBySpacesaver"`
}

// Item is one discovered media file under an entry.
type Item struct {
	ID        string `json:"id"`
	EntryID   string `json:"entryId"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
	MTime     int64  `json:"mtime"`
	MediaInfo

	Ready           bool       `json:"ready"`
	Status          ItemStatus `json:"status"`
	LastJobID       string     `json:"lastJobId,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	TranscodeCount  int        `json:"transcodeCount"`
	LastTranscodeAt *time.Time `json:"lastTranscodeAt,omitempty"`

	SourceFingerprint string     `json:"sourceFingerprint"`
	Ratio             Ratio      `json:"ratio"`
	Missing           bool       `json:"missing,omitempty"`
	ProbeError        string     `json:"probeError,omitempty"`
	ScanAt            *time.Time `json:"scanAt,omitempty"`
}

// Progress is the last progress report of a job.
type Progress struct {
	Pct     float64 `json:"pct"`
	EtaSec  *int    `json:"etaSec"`
	LogTail string  `json:"logTail"`
}

// Job is one worker's claim on one item. ItemID and WorkerID never change after creation.
type Job struct {
	ID              string     `json:"id"`
	ItemID          string     `json:"itemId"`
	WorkerID        string     `json:"workerId"`
	Status          JobStatus  `json:"status"`
	Args            string     `json:"args"`
	ClaimedAt       time.Time  `json:"claimedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	Progress        Progress   `json:"progress"`
	CancelRequested bool       `json:"cancelRequested"`
	Error           string     `json:"error,omitempty"`
	OutputSizeBytes int64      `json:"outputSizeBytes,omitempty"`
}

// WorkWindow is a local time-of-day range in "HH:MM". It wraps midnight when End <= Start.
type WorkWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Worker is a registered polling process.
type Worker struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	LastHeartbeatAt time.Time    `json:"lastHeartbeatAt"`
	WorkHours       []WorkWindow `json:"workHours"`
}

// Config is the server-side transcoding configuration stored with the state.
type Config struct {
	BaselineArgs           string            `json:"baselineArgs"`
	FFprobePath            string            `json:"ffprobePath"`
	TargetMbPerMinByHeight map[int]float64   `json:"targetMbPerMinByHeight"`
	TargetSamplesByHeight  map[int][]float64 `json:"targetSamplesByHeight"`
}

// DefaultBaselineArgs is the HandBrakeCLI argument string applied to every job.
const DefaultBaselineArgs = "-f av_mkv -e x265_10bit --encoder-preset medium -q 20 " +
	"--audio-lang-list eng --first-audio -E copy " +
	"--subtitle-lang-list eng --first-subtitle --crop 0:0:0:0"

// DefaultTargets returns the default MB-per-minute target for each resolution bucket.
func DefaultTargets() map[int]float64 {
	return map[int]float64{480: 6, 720: 10, 1080: 16, 2160: 32}
}

// DefaultConfig returns the configuration of a fresh state document.
func DefaultConfig() Config {
	return Config{
		BaselineArgs:           DefaultBaselineArgs,
		TargetMbPerMinByHeight: DefaultTargets(),
		TargetSamplesByHeight:  map[int][]float64{},
	}
}

// StateVersion is the only persisted document version this build understands.
const StateVersion = 1

// StateDocument is the persisted representation of the whole store.
type StateDocument struct {
	Version int      `json:"version"`
	Config  Config   `json:"config"`
	Entries []Entry  `json:"entries"`
	Items   []Item   `json:"items"`
	Jobs    []Job    `json:"jobs"`
	Workers []Worker `json:"workers"`
}

// JobView is a job enriched for listings.
type JobView struct {
	Job
	ItemPath   string     `json:"itemPath"`
	ItemStatus ItemStatus `json:"itemStatus"`
	WorkerName string     `json:"workerName"`
}

// WorkerView is a worker with its derived liveness fields.
type WorkerView struct {
	Worker
	Online          bool `json:"online"`
	WithinWorkHours bool `json:"withinWorkHours"`
}

// ScanStatus describes the scan currently running, or the last one.
type ScanStatus struct {
	Active      bool       `json:"active"`
	EntryID     string     `json:"entryId,omitempty"`
	EntryName   string     `json:"entryName,omitempty"`
	Total       int        `json:"total"`
	Done        int        `json:"done"`
	CurrentPath string     `json:"currentPath,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}
