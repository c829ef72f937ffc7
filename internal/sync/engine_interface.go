// Package sync drains locally captured surveys into the remote backend.
package sync

import (
	"context"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

// PendingStore is the subset of the Local Pending Store the orchestrator
// needs for passes and for discarding quarantined surveys.
type PendingStore interface {
	ListPending(ctx context.Context) ([]*models.PendingSurvey, error)
	Remove(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, lastErr string) error
	Quarantine(ctx context.Context, id string, reason string) error
	ListFailed(ctx context.Context) ([]*models.FailedSurvey, error)
	Discard(ctx context.Context, id string) error
}

// Gateway is the hosted backend's write surface.
type Gateway interface {
	// UploadBlob stores bytes under path and returns an addressable URL.
	UploadBlob(ctx context.Context, path string, data []byte, mimeType string) (string, error)

	// InsertRow submits payload as a new row and returns the stored row.
	InsertRow(ctx context.Context, table string, payload map[string]interface{}) (map[string]interface{}, error)

	// DeleteBlob removes a stored object. Used when a quarantined survey
	// is discarded, never by sync passes.
	DeleteBlob(ctx context.Context, path string) error
}

// Connectivity reports the best-known network state.
type Connectivity interface {
	IsOnline() bool
}

// Notifier receives the single user-facing summary of each pass.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SyncEventHandler receives live progress events. Implementations must
// not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// PhotoPreparer may transform a photo before upload. The stored copy is
// never modified.
type PhotoPreparer interface {
	Prepare(photo *models.PhotoBlob) (*models.PhotoBlob, error)
}

// Runner is what trigger sources (scheduler, HTTP, CLI) drive.
type Runner interface {
	SynchronizeAll(ctx context.Context) (*Result, error)
	State() State
}
