package pending

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/uuid"
)

type memoryEntry struct {
	seq    uint64
	survey *models.PendingSurvey
}

type failedEntry struct {
	seq    uint64
	survey *models.FailedSurvey
}

// MemoryStore keeps pending surveys in process memory. Nothing survives a
// restart; it backs ephemeral mode (DATA_DIR=:memory:) and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*memoryEntry
	failed  map[string]*failedEntry
	nextSeq uint64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]*memoryEntry),
		failed: make(map[string]*failedEntry),
		now:    time.Now,
	}
}

// cloneSurvey returns a copy to avoid external modification.
func cloneSurvey(s *models.PendingSurvey) *models.PendingSurvey {
	c := *s
	c.FormData = s.FormData.Clone()
	c.Photo = copyPhoto(s.Photo)
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return &c
}

// Save adds a new pending survey.
func (m *MemoryStore) Save(ctx context.Context, formData models.FormData, photo *models.PhotoBlob) (string, error) {
	if formData == nil {
		formData = models.FormData{}
	}
	if _, err := json.Marshal(formData); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "form data is not JSON-encodable", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	survey := &models.PendingSurvey{
		ID:         uuid.New(),
		FormData:   formData.Clone(),
		Photo:      copyPhoto(photo),
		CapturedAt: m.now(),
	}
	m.items[survey.ID] = &memoryEntry{seq: m.nextSeq, survey: survey}

	logging.Debug("Pending survey saved", map[string]interface{}{"record_id": survey.ID})
	return survey.ID, nil
}

// ListPending returns copies of all pending surveys, newest first.
func (m *MemoryStore) ListPending(ctx context.Context) ([]*models.PendingSurvey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*memoryEntry, 0, len(m.items))
	for _, e := range m.items {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].survey.CapturedAt, entries[j].survey.CapturedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return entries[i].seq > entries[j].seq
	})

	surveys := make([]*models.PendingSurvey, 0, len(entries))
	for _, e := range entries {
		surveys = append(surveys, cloneSurvey(e.survey))
	}
	return surveys, nil
}

// Get returns a copy of a pending survey.
func (m *MemoryStore) Get(ctx context.Context, id string) (*models.PendingSurvey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneSurvey(e.survey), nil
}

// Remove deletes a pending survey. Missing ids are not an error.
func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// Clear removes all pending surveys.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*memoryEntry)
	logging.Warn("Pending store cleared", nil)
	return nil
}

// Count returns the number of pending surveys.
func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// RecordAttempt increments the attempt count of a pending survey.
func (m *MemoryStore) RecordAttempt(ctx context.Context, id string, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[id]
	if !ok {
		return notFound(id)
	}
	now := m.now()
	e.survey.AttemptCount++
	e.survey.LastError = lastErr
	e.survey.LastAttemptAt = &now
	return nil
}

// Quarantine moves a pending survey into the failed set.
func (m *MemoryStore) Quarantine(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[id]
	if !ok {
		return notFound(id)
	}
	now := m.now()
	survey := e.survey
	survey.AttemptCount++
	survey.LastError = reason
	survey.LastAttemptAt = &now

	m.nextSeq++
	m.failed[id] = &failedEntry{
		seq: m.nextSeq,
		survey: &models.FailedSurvey{
			PendingSurvey: *survey,
			Reason:        reason,
			FailedAt:      now,
		},
	}
	delete(m.items, id)
	return nil
}

// ListFailed returns copies of the failed surveys, most recently failed first.
func (m *MemoryStore) ListFailed(ctx context.Context) ([]*models.FailedSurvey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*failedEntry, 0, len(m.failed))
	for _, e := range m.failed {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq > entries[j].seq
	})

	failed := make([]*models.FailedSurvey, 0, len(entries))
	for _, e := range entries {
		f := *e.survey
		f.PendingSurvey = *cloneSurvey(&e.survey.PendingSurvey)
		failed = append(failed, &f)
	}
	return failed, nil
}

// Requeue moves a failed survey back into the pending set.
func (m *MemoryStore) Requeue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.failed[id]
	if !ok {
		return notFound(id)
	}
	survey := e.survey.PendingSurvey
	m.nextSeq++
	m.items[id] = &memoryEntry{seq: m.nextSeq, survey: &survey}
	delete(m.failed, id)

	logging.Info("Failed survey requeued", map[string]interface{}{"record_id": id})
	return nil
}

// Discard deletes a failed survey. Missing ids are not an error.
func (m *MemoryStore) Discard(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, id)
	return nil
}
