package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/animus-migrate/internal/ledger"
)

type stubDB struct {
	queries []string
	args    [][]any
	err     error
}

func (s *stubDB) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	if s.err != nil {
		return nil, s.err
	}
	return driverResult(1), nil
}

func (s *stubDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDB) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestInvocationQueries(t *testing.T) {
	if !strings.Contains(insertInvocationQuery, "ON CONFLICT (invocation_id) DO NOTHING") {
		t.Fatalf("expected idempotency conflict clause in insert query")
	}
	if !strings.Contains(listInvocationsByRunQuery, "run_id = $1") {
		t.Fatalf("expected run_id predicate in list query")
	}
	if !strings.Contains(listInvocationsByRunQuery, "ORDER BY") {
		t.Fatalf("expected ORDER BY in list query")
	}
	if !strings.Contains(createInvocationsTableQuery, "IF NOT EXISTS") {
		t.Fatalf("expected idempotent schema creation")
	}
}

func TestAppend(t *testing.T) {
	db := &stubDB{}
	store := NewStore(db)
	finished := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	err := store.Append(context.Background(), ledger.Record{
		RunID:      " run-1 ",
		ServiceID:  "svc-1",
		Kind:       ledger.KindTransformation,
		Status:     ledger.StatusSucceeded,
		HTTPStatus: 200,
		StartedAt:  finished.Add(-5 * time.Second),
		FinishedAt: &finished,
	})
	if err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if len(db.args) != 1 {
		t.Fatalf("exec calls=%d, want 1", len(db.args))
	}
	args := db.args[0]
	if id, _ := args[0].(string); id == "" {
		t.Fatalf("expected generated invocation id")
	}
	if args[1] != "run-1" {
		t.Fatalf("run id=%v", args[1])
	}
	if got := args[8].(sql.NullInt64); !got.Valid || got.Int64 != 200 {
		t.Fatalf("http status=%v", got)
	}
	if got := args[11].(sql.NullString); got.Valid {
		t.Fatalf("expected null error message, got %v", got)
	}
}

func TestAppendValidation(t *testing.T) {
	store := NewStore(&stubDB{})
	cases := map[string]ledger.Record{
		"missing run":     {ServiceID: "s", Kind: ledger.KindDelivery, Status: ledger.StatusFailed},
		"missing service": {RunID: "r", Kind: ledger.KindDelivery, Status: ledger.StatusFailed},
		"missing kind":    {RunID: "r", ServiceID: "s", Status: ledger.StatusFailed},
		"missing status":  {RunID: "r", ServiceID: "s", Kind: ledger.KindDelivery},
	}
	for name, record := range cases {
		t.Run(name, func(t *testing.T) {
			if err := store.Append(context.Background(), record); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	var nilStore *Store
	if err := nilStore.Append(context.Background(), ledger.Record{}); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if NewStore(nil) != nil {
		t.Fatalf("expected nil store for nil db")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &stubDB{}
	if err := NewStore(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() err=%v", err)
	}
	if len(db.queries) != 2 {
		t.Fatalf("queries=%d, want 2", len(db.queries))
	}

	failing := &stubDB{err: errors.New("boom")}
	if err := NewStore(failing).EnsureSchema(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
