// Package domain holds the value types shared by every layer of the bus:
// events, subscription records, and the sentinel errors surfaced at the
// package boundary. The retry policy lives in internal/policy.
package domain

import (
	"encoding/json"
	"time"
)

// Status is the terminal-DAG position of an Event: pending -> processing ->
// (done | dlq), with an administrative dlq -> pending reset.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusDLQ        Status = "dlq"
)

// Event is the unit of work carried through the dispatch pipeline.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  []string        `json:"last_error,omitempty"`
	DLQAt      *time.Time      `json:"dlq_at,omitempty"`
}

// Clone returns a deep-enough copy for handing to a handler without letting
// it mutate the dispatcher's bookkeeping copy.
func (e Event) Clone() Event {
	c := e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	if e.LastError != nil {
		c.LastError = append([]string(nil), e.LastError...)
	}
	return c
}
