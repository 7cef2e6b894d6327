// Package postgres stores the invocation ledger in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-migrate/internal/ledger"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var errNotInitialized = errors.New("invocation ledger store not initialized")

const (
	createInvocationsTableQuery = `CREATE TABLE IF NOT EXISTS service_invocations (
		invocation_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		http_status INTEGER,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		error_message TEXT
	)`

	createInvocationsRunIndexQuery = `CREATE INDEX IF NOT EXISTS service_invocations_run_idx
	 ON service_invocations (run_id, started_at)`

	insertInvocationQuery = `INSERT INTO service_invocations (
		invocation_id,
		run_id,
		plan_id,
		object_id,
		service_id,
		step_index,
		kind,
		status,
		http_status,
		started_at,
		finished_at,
		error_message
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (invocation_id) DO NOTHING`

	listInvocationsByRunQuery = `SELECT invocation_id, run_id, plan_id, object_id, service_id, step_index, kind, status, http_status, started_at, finished_at, error_message
	 FROM service_invocations
	 WHERE run_id = $1
	 ORDER BY started_at ASC, step_index ASC`
)

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// EnsureSchema creates the ledger table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	for _, q := range []string{createInvocationsTableQuery, createInvocationsRunIndexQuery} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, record ledger.Record) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	runID := strings.TrimSpace(record.RunID)
	serviceID := strings.TrimSpace(record.ServiceID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if serviceID == "" {
		return fmt.Errorf("service id is required")
	}
	if record.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if record.Status == "" {
		return fmt.Errorf("status is required")
	}

	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	var finishedAt sql.NullTime
	if record.FinishedAt != nil && !record.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: record.FinishedAt.UTC(), Valid: true}
	}
	var httpStatus sql.NullInt64
	if record.HTTPStatus > 0 {
		httpStatus = sql.NullInt64{Int64: int64(record.HTTPStatus), Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		insertInvocationQuery,
		id,
		runID,
		strings.TrimSpace(record.PlanID),
		strings.TrimSpace(record.ObjectID),
		serviceID,
		record.StepIndex,
		string(record.Kind),
		string(record.Status),
		httpStatus,
		startedAt.UTC(),
		finishedAt,
		nullIfEmpty(record.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]ledger.Record, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	rows, err := s.db.QueryContext(ctx, listInvocationsByRunQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	records := make([]ledger.Record, 0)
	for rows.Next() {
		record, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	return records, nil
}

type invocationScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(scanner invocationScanner) (ledger.Record, error) {
	var (
		record       ledger.Record
		kind, status string
		httpStatus   sql.NullInt64
		finishedAt   sql.NullTime
		errorMessage sql.NullString
	)
	if err := scanner.Scan(
		&record.ID,
		&record.RunID,
		&record.PlanID,
		&record.ObjectID,
		&record.ServiceID,
		&record.StepIndex,
		&kind,
		&status,
		&httpStatus,
		&record.StartedAt,
		&finishedAt,
		&errorMessage,
	); err != nil {
		return ledger.Record{}, fmt.Errorf("scan invocation: %w", err)
	}
	record.Kind = ledger.Kind(kind)
	record.Status = ledger.Status(status)
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		record.FinishedAt = &t
	}
	record.StartedAt = record.StartedAt.UTC()
	record.ErrorMessage = strings.TrimSpace(errorMessage.String)
	return record, nil
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
