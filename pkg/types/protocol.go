package types

// Messages exchanged between workers and the server. They are transport
// independent: the gRPC service encodes them as JSON, the local source passes
// them by value.

// ClaimRequest asks the server for the best ready item.
type ClaimRequest struct {
	WorkerID   string `json:"workerId"`
	WorkerName string `json:"workerName"`
}

// Reasons a claim returned no assignment.
const (
	ClaimNoWork   = "no_work"
	ClaimOffHours = "off_hours"
)

// Assignment is everything a worker needs to run a claimed job.
type Assignment struct {
	Job   Job    `json:"job"`
	Item  Item   `json:"item"`
	Entry Entry  `json:"entry"`
	Args  string `json:"args"`
}

// ClaimResponse carries either an assignment or the reason there is none.
type ClaimResponse struct {
	Assignment *Assignment `json:"assignment,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// HeartbeatRequest refreshes a worker's liveness. A nil WorkHours keeps the stored windows.
type HeartbeatRequest struct {
	WorkerID   string       `json:"workerId"`
	WorkerName string       `json:"workerName"`
	WorkHours  []WorkWindow `json:"workHours"`
}

// ProgressRequest reports transcoder progress. Nil fields are left unchanged.
type ProgressRequest struct {
	JobID   string   `json:"jobId"`
	Pct     *float64 `json:"pct,omitempty"`
	EtaSec  *int     `json:"etaSec,omitempty"`
	LogTail *string  `json:"logTail,omitempty"`
}

// ProgressResponse tells the worker whether an operator asked it to stop.
type ProgressResponse struct {
	CancelRequested bool `json:"cancelRequested"`
}

// CompleteRequest finalizes a job with the size of the replaced file.
type CompleteRequest struct {
	JobID           string `json:"jobId"`
	OutputSizeBytes int64  `json:"outputSizeBytes"`
}

// FailRequest finalizes a job with an error text.
type FailRequest struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

// JobRequest addresses a single job.
type JobRequest struct {
	JobID string `json:"jobId"`
}

// JobResponse returns a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// CancelAllResponse returns the number of jobs flagged.
type CancelAllResponse struct {
	Count int `json:"count"`
}

// Empty is the response of calls that return nothing.
type Empty struct{}
