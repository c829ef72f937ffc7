package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/uuid"
)

const surveyColumns = `id, form_data, photo_data, photo_mime, captured_at, attempt_count, last_error, last_attempt_at`

// SQLiteStore persists pending surveys in the on-device SQLite database.
// Rows survive process restarts; photo bytes live in the same row.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func storageFault(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorageFault, op, err)
}

func notFound(id string) error {
	return apperrors.New(apperrors.ErrNotFound, "survey "+id+" not found")
}

// Save persists a new pending survey and returns its identifier.
func (s *SQLiteStore) Save(ctx context.Context, formData models.FormData, photo *models.PhotoBlob) (string, error) {
	if formData == nil {
		formData = models.FormData{}
	}
	payload, err := json.Marshal(formData)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "form data is not JSON-encodable", err)
	}

	id := uuid.New()
	var photoData []byte
	var photoMime sql.NullString
	if photo != nil {
		photoData = photo.Data
		photoMime = sql.NullString{String: photo.MimeType, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO pending_surveys (id, form_data, photo_data, photo_mime, captured_at, attempt_count)
	VALUES (?, ?, ?, ?, ?, 0)`,
		id, string(payload), photoData, photoMime, s.now().UnixNano())
	if err != nil {
		return "", storageFault("save pending survey", err)
	}

	logging.Debug("Pending survey saved", map[string]interface{}{
		"record_id":  id,
		"photo_size": photo.Size(),
	})
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSurvey(row rowScanner, extra ...any) (*models.PendingSurvey, error) {
	var (
		survey        models.PendingSurvey
		formData      string
		photoData     []byte
		photoMime     sql.NullString
		capturedAt    int64
		lastError     sql.NullString
		lastAttemptAt sql.NullInt64
	)

	dest := append([]any{&survey.ID, &formData, &photoData, &photoMime, &capturedAt,
		&survey.AttemptCount, &lastError, &lastAttemptAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(formData), &survey.FormData); err != nil {
		return nil, err
	}
	if photoMime.Valid {
		survey.Photo = &models.PhotoBlob{Data: photoData, MimeType: photoMime.String}
	}
	survey.CapturedAt = time.Unix(0, capturedAt)
	survey.LastError = lastError.String
	if lastAttemptAt.Valid {
		t := time.Unix(0, lastAttemptAt.Int64)
		survey.LastAttemptAt = &t
	}
	return &survey, nil
}

// ListPending returns every pending survey, newest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.PendingSurvey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+surveyColumns+` FROM pending_surveys ORDER BY captured_at DESC, seq DESC`)
	if err != nil {
		return nil, storageFault("list pending surveys", err)
	}
	defer rows.Close()

	surveys := make([]*models.PendingSurvey, 0)
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, storageFault("scan pending survey", err)
		}
		surveys = append(surveys, survey)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault("list pending surveys", err)
	}
	return surveys, nil
}

// Get returns a single pending survey.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.PendingSurvey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+surveyColumns+` FROM pending_surveys WHERE id = ?`, id)
	survey, err := scanSurvey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageFault("get pending survey", err)
	}
	return survey, nil
}

// Remove deletes a pending survey. Missing ids are not an error.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_surveys WHERE id = ?`, id); err != nil {
		return storageFault("remove pending survey", err)
	}
	return nil
}

// Clear deletes every pending survey.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_surveys`)
	if err != nil {
		return storageFault("clear pending surveys", err)
	}
	n, _ := res.RowsAffected()
	logging.Warn("Pending store cleared", map[string]interface{}{"removed": n})
	return nil
}

// Count returns the number of pending surveys.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_surveys`).Scan(&n); err != nil {
		return 0, storageFault("count pending surveys", err)
	}
	return n, nil
}

// RecordAttempt increments the attempt counter of a pending survey.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, id string, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE pending_surveys
	SET attempt_count = attempt_count + 1, last_error = ?, last_attempt_at = ?
	WHERE id = ?`, lastErr, s.now().UnixNano(), id)
	if err != nil {
		return storageFault("record attempt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// Quarantine moves a pending survey into the failed set in one transaction.
func (s *SQLiteStore) Quarantine(ctx context.Context, id string, reason string) error {
	now := s.now().UnixNano()
	return s.inTx(ctx, "quarantine survey", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO failed_surveys (`+surveyColumns+`, reason, failed_at)
		SELECT id, form_data, photo_data, photo_mime, captured_at, attempt_count + 1, ?, ?, ?, ?
		FROM pending_surveys WHERE id = ?`, reason, now, reason, now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(id)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM pending_surveys WHERE id = ?`, id)
		return err
	})
}

// ListFailed returns the quarantined surveys, most recently failed first.
func (s *SQLiteStore) ListFailed(ctx context.Context) ([]*models.FailedSurvey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+surveyColumns+`, reason, failed_at FROM failed_surveys ORDER BY failed_at DESC`)
	if err != nil {
		return nil, storageFault("list failed surveys", err)
	}
	defer rows.Close()

	failed := make([]*models.FailedSurvey, 0)
	for rows.Next() {
		var reason string
		var failedAt int64
		survey, err := scanSurvey(rows, &reason, &failedAt)
		if err != nil {
			return nil, storageFault("scan failed survey", err)
		}
		failed = append(failed, &models.FailedSurvey{
			PendingSurvey: *survey,
			Reason:        reason,
			FailedAt:      time.Unix(0, failedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault("list failed surveys", err)
	}
	return failed, nil
}

// Requeue moves a failed survey back into the pending set. Its attempt
// count and capture time are preserved.
func (s *SQLiteStore) Requeue(ctx context.Context, id string) error {
	return s.inTx(ctx, "requeue survey", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_surveys (`+surveyColumns+`)
		SELECT `+surveyColumns+` FROM failed_surveys WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(id)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM failed_surveys WHERE id = ?`, id)
		return err
	})
}

// Discard permanently deletes a failed survey. Missing ids are not an error.
func (s *SQLiteStore) Discard(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM failed_surveys WHERE id = ?`, id); err != nil {
		return storageFault("discard failed survey", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageFault(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return storageFault(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageFault(op, err)
	}
	return nil
}
