// Package pending implements the Local Pending Store: the durable holding
// area for surveys captured on the device and not yet accepted remotely.
package pending

import (
	"context"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

// Store is the contract shared by the durable SQLite store and the
// in-memory store.
//
// ListPending returns a snapshot ordered newest-first by CapturedAt; no
// lock is held on the returned records. Remove and Discard are idempotent.
// Storage-layer faults are reported with the STORAGE_FAULT code and a
// missing record with NOT_FOUND.
type Store interface {
	Save(ctx context.Context, formData models.FormData, photo *models.PhotoBlob) (string, error)
	ListPending(ctx context.Context) ([]*models.PendingSurvey, error)
	Get(ctx context.Context, id string) (*models.PendingSurvey, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)

	// RecordAttempt increments the attempt count of a pending survey and
	// stores the failure text.
	RecordAttempt(ctx context.Context, id string, lastErr string) error

	// Quarantine moves a pending survey into the failed set.
	Quarantine(ctx context.Context, id string, reason string) error
	ListFailed(ctx context.Context) ([]*models.FailedSurvey, error)
	Requeue(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
}

func copyPhoto(p *models.PhotoBlob) *models.PhotoBlob {
	if p == nil {
		return nil
	}
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &models.PhotoBlob{Data: data, MimeType: p.MimeType}
}
