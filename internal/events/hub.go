package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Broadcaster delivers raw payloads to subscribers of a project.
type Broadcaster interface {
	Broadcast(projectID int64, payload []byte)
}

// HubSink streams events to websocket subscribers.
type HubSink struct {
	hub Broadcaster
	log *slog.Logger
}

// NewHubSink constructs a HubSink.
func NewHubSink(hub Broadcaster, log *slog.Logger) *HubSink {
	if log == nil {
		log = slog.Default()
	}
	return &HubSink{hub: hub, log: log}
}

// Publish implements Sink.
func (s *HubSink) Publish(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("encode provisioning event", "error", err)
		return
	}
	s.hub.Broadcast(event.ProjectID, payload)
}
