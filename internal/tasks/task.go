// Package tasks is the delayed-task queue: schedule(type, payload, notBefore)
// plus a worker pool that retries with backoff.
package tasks

import (
	"context"
	"encoding/json"
	"time"
)

const TypeStockExpiry = "order.stock_expiry_check"

// Task ids are idempotency keys: scheduling an id twice, or after it
// completed, is a no-op.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	NotBefore time.Time       `json:"not_before"`
	Attempt   int             `json:"attempt"`
}

type Scheduler interface {
	Schedule(ctx context.Context, t Task) error
}

type Queue interface {
	Scheduler
	// Claim leases up to limit due tasks; unfinished leases come back after the lease expires.
	Claim(ctx context.Context, now time.Time, limit int) ([]Task, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, t Task, at time.Time) error
}
