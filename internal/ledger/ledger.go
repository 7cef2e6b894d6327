// Package ledger records every remote service call of a migration run.
package ledger

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindTransformation Kind = "transformation"
	KindDelivery       Kind = "delivery"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Record struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	PlanID       string     `json:"plan_id"`
	ObjectID     string     `json:"object_id"`
	ServiceID    string     `json:"service_id"`
	StepIndex    int        `json:"step_index"`
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	HTTPStatus   int        `json:"http_status,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Recorder appends records. Implementations must be safe for concurrent use.
type Recorder interface {
	Append(ctx context.Context, record Record) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Append(context.Context, Record) error {
	return nil
}

// Memory keeps records in process, in append order. With a positive limit
// only the most recent limit records are kept. The zero value is unbounded.
type Memory struct {
	mu      sync.Mutex
	limit   int
	records []Record
}

// NewMemory returns a Memory holding at most limit records.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Append(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	if m.limit > 0 && len(m.records) > m.limit {
		drop := len(m.records) - m.limit
		m.records = append(m.records[:0:0], m.records[drop:]...)
	}
	return nil
}

func (m *Memory) ListByRun(_ context.Context, runID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}
