// Package history persists completed analysis reports.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown record id.
var ErrNotFound = errors.New("history record not found")

// Record is one stored report. Payload is the report as JSON.
type Record struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Store keeps records newest first.
type Store interface {
	Append(ctx context.Context, rec Record) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// prepare fills in the id and timestamp of a new record.
func prepare(rec Record, now time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec
}
