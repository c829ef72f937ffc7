// Package models provides data model definitions for the survey sync core.
package models

import "time"

// FormData is the opaque survey submission: field name to JSON-compatible
// value. The sync core only inspects the keys a Validator asks for.
type FormData map[string]interface{}

// Clone returns a shallow copy so payload merging never mutates the
// stored submission.
func (f FormData) Clone() FormData {
	out := make(FormData, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// PhotoBlob is a single binary attachment owned by one pending survey.
type PhotoBlob struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// Size returns the attachment size in bytes.
func (p *PhotoBlob) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// PendingSurvey is a locally captured survey not yet acknowledged by the
// remote backend.
type PendingSurvey struct {
	ID            string     `db:"id" json:"id"`
	FormData      FormData   `db:"form_data" json:"form_data"`
	Photo         *PhotoBlob `db:"-" json:"photo,omitempty"`
	CapturedAt    time.Time  `db:"captured_at" json:"captured_at"`
	AttemptCount  int        `db:"attempt_count" json:"attempt_count"`
	LastError     string     `db:"last_error" json:"last_error,omitempty"`
	LastAttemptAt *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
}

// TableName returns the table name for PendingSurvey.
func (PendingSurvey) TableName() string {
	return "pending_surveys"
}

// HasPhoto reports whether the survey carries a non-empty attachment.
func (s *PendingSurvey) HasPhoto() bool {
	return s.Photo != nil && len(s.Photo.Data) > 0
}

// FailedSurvey is a survey the remote side rejected permanently. It stays
// out of sync passes until an operator requeues or discards it.
type FailedSurvey struct {
	PendingSurvey
	Reason   string    `db:"reason" json:"reason"`
	FailedAt time.Time `db:"failed_at" json:"failed_at"`
}

// TableName returns the table name for FailedSurvey.
func (FailedSurvey) TableName() string {
	return "failed_surveys"
}
