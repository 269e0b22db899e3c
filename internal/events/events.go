// Package events fans provisioning progress out to live subscribers.
package events

import (
	"context"
	"time"
)

// Event reports one provisioning step transition.
type Event struct {
	RunID      string    `json:"run_id"`
	ProjectID  int64     `json:"project_id"`
	Region     string    `json:"region"`
	Step       string    `json:"step"`
	State      string    `json:"state"`
	Status     string    `json:"status"`
	ResourceID string    `json:"resource_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event statuses.
const (
	StatusStarted   = "started"
	StatusSucceeded = "succeeded"
	StatusReused    = "reused"
	StatusFailed    = "failed"
	StatusReverted  = "reverted"
)

// Sink receives events. Publishing never fails the caller; sinks log their own errors.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// Multi publishes to every sink in order.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, event)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, Event) {}
