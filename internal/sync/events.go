package sync

import "time"

// SyncEventType identifies a live progress event.
type SyncEventType string

const (
	SyncEventStarted   SyncEventType = "sync.started"
	SyncEventProgress  SyncEventType = "sync.progress"
	SyncEventCompleted SyncEventType = "sync.completed"
	SyncEventFailed    SyncEventType = "sync.failed"
)

// SyncEvent is emitted during a pass for UI progress indicators.
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	RecordID  string        `json:"record_id,omitempty"`
	Succeeded bool          `json:"succeeded,omitempty"`
	Result    *Result       `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// SyncErrorEntry records one per-record failure for developer diagnostics.
type SyncErrorEntry struct {
	RecordID  string    `json:"record_id"`
	Stage     string    `json:"stage"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Terminal  bool      `json:"terminal"`
	Timestamp time.Time `json:"timestamp"`
}
