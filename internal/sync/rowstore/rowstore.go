// Package rowstore submits survey rows to the hosted Postgres database.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
)

// querier is the part of *pgxpool.Pool the store uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Store inserts rows through a pgx connection pool.
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// Open connects a small pool to dsn. The pool is sized for a single field
// device: few connections, short idle lifetime.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid DATABASE_URL", err)
	}

	cfg.MaxConns = 3
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Minute * 30
	cfg.MaxConnIdleTime = time.Minute * 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSubmissionFailed, "failed to create connection pool", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrSubmissionFailed, "database unreachable", err)
	}
	return nil
}

// Insert writes row into table and returns the stored row, including
// server-side defaults. table may be schema-qualified ("public.surveys").
func (s *Store) Insert(ctx context.Context, table string, row map[string]interface{}) (map[string]interface{}, error) {
	query, args, err := buildInsert(table, row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	stored, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A row-level security policy can hide the inserted row.
			return map[string]interface{}{}, nil
		}
		return nil, classify(err)
	}
	return stored, nil
}

// buildInsert renders a parameterised INSERT with columns in sorted order.
func buildInsert(table string, row map[string]interface{}) (string, []any, error) {
	if strings.TrimSpace(table) == "" {
		return "", nil, apperrors.New(apperrors.ErrInvalid, "table name is required")
	}
	if len(row) == 0 {
		return "", nil, apperrors.NewTerminal(apperrors.ErrMalformedRecord, "row has no columns")
	}

	columns := make([]string, 0, len(row))
	for c := range row {
		if strings.TrimSpace(c) == "" {
			return "", nil, apperrors.NewTerminal(apperrors.ErrMalformedRecord, "row has an empty column name")
		}
		columns = append(columns, c)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	return query, args, nil
}

// dedupColumn is the idempotency key every submitted row carries.
const dedupColumn = "local_id"

// classify maps a pgx error onto the sync error taxonomy. A unique
// violation on the local_id key is DUPLICATE. Any other constraint or data
// error, unknown column or type mismatch is terminal. Everything else is
// retryable.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperrors.Wrap(apperrors.ErrSubmissionFailed, "row insert failed", err)
	}

	switch {
	case pgErr.Code == "23505" && onDedupKey(pgErr):
		return apperrors.Wrap(apperrors.ErrDuplicate, "row already exists", err)
	case pgErr.Code == "23505":
		return apperrors.WrapTerminal(apperrors.ErrSubmissionFailed,
			fmt.Sprintf("row rejected: unique constraint %q", pgErr.ConstraintName), err)
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"),
		pgErr.Code == "42703", pgErr.Code == "42804":
		return apperrors.WrapTerminal(apperrors.ErrSubmissionFailed, "row rejected", err)
	default:
		return apperrors.Wrap(apperrors.ErrSubmissionFailed, "row insert failed", err)
	}
}

// onDedupKey reports whether a unique violation was raised by the local_id
// key rather than another unique column of the target table.
func onDedupKey(pgErr *pgconn.PgError) bool {
	if strings.Contains(pgErr.ConstraintName, dedupColumn) {
		return true
	}
	return strings.Contains(pgErr.Detail, "("+dedupColumn+")")
}
