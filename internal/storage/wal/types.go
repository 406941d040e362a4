package wal

import "encoding/json"

// ============================================================================
// WAL Type Definitions
// Responsibility: Define core data structures for WAL
// ============================================================================

// Op is the kind of change applied to one stored record.
type Op string

const (
	OpPut    Op = "PUT"    // Record created or replaced
	OpDelete Op = "DELETE" // Record removed
)

// Kind names the collection a change belongs to.
type Kind string

const (
	KindConfig Kind = "config"
	KindEntry  Kind = "entry"
	KindItem   Kind = "item"
	KindJob    Kind = "job"
	KindWorker Kind = "worker"
)

// Change is a single put or delete inside a transaction.
type Change struct {
	Op   Op              `json:"op"`
	Kind Kind            `json:"kind"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is one committed transaction. It occupies exactly one line of the log,
// so a torn write loses the whole transaction and never half of it.
type Event struct {
	Seq       uint64   `json:"seq"`       // Event sequence number (monotonically increasing)
	Timestamp int64    `json:"timestamp"` // Unix millisecond timestamp
	Changes   []Change `json:"changes"`
	Checksum  uint32   `json:"checksum"` // CRC32 checksum
}

// EventHandler is the function type for processing WAL events.
// Used during Replay to apply events to system state.
type EventHandler func(event Event) error
