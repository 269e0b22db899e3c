package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher sends a payload on a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events on <prefix>.<project_id>.
type NATSSink struct {
	pub    Publisher
	prefix string
	log    *slog.Logger
}

// NewNATSSink constructs a NATSSink on an existing publisher.
func NewNATSSink(pub Publisher, prefix string, log *slog.Logger) *NATSSink {
	if log == nil {
		log = slog.Default()
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "puyu.provisioning"
	}
	return &NATSSink{pub: pub, prefix: prefix, log: log}
}

// Subject returns the subject events of a project are published on.
func (s *NATSSink) Subject(projectID int64) string {
	return fmt.Sprintf("%s.%d", s.prefix, projectID)
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("encode provisioning event", "error", err)
		return
	}
	if err := s.pub.Publish(s.Subject(event.ProjectID), payload); err != nil {
		s.log.Warn("nats publish failed", "run_id", event.RunID, "error", err)
	}
}

// ConnectNATS dials a NATS server with reconnects enabled.
func ConnectNATS(url string, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("puyu-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
