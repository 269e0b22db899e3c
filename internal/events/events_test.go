package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type captureBroadcaster struct {
	projectID int64
	payload   []byte
}

func (c *captureBroadcaster) Broadcast(projectID int64, payload []byte) {
	c.projectID = projectID
	c.payload = payload
}

type capturePublisher struct {
	subject string
	data    []byte
	err     error
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return c.err
}

func TestHubSinkEncodesEvent(t *testing.T) {
	b := &captureBroadcaster{}
	NewHubSink(b, nil).Publish(context.Background(), Event{RunID: "r1", ProjectID: 7, Step: "network", Status: StatusSucceeded, ResourceID: "vpc-1"})

	if b.projectID != 7 {
		t.Fatalf("expected project 7, got %d", b.projectID)
	}
	var got Event
	if err := json.Unmarshal(b.payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ResourceID != "vpc-1" || got.Step != "network" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestNATSSinkSubject(t *testing.T) {
	p := &capturePublisher{}
	sink := NewNATSSink(p, "puyu.provisioning.", nil)
	sink.Publish(context.Background(), Event{RunID: "r1", ProjectID: 42})

	if p.subject != "puyu.provisioning.42" {
		t.Fatalf("unexpected subject %q", p.subject)
	}
	if len(p.data) == 0 {
		t.Fatal("expected payload")
	}
}

func TestNATSSinkSwallowsErrors(t *testing.T) {
	p := &capturePublisher{err: errors.New("nats: connection closed")}
	NewNATSSink(p, "", nil).Publish(context.Background(), Event{ProjectID: 1})
	if p.subject != "puyu.provisioning.1" {
		t.Fatalf("unexpected subject %q", p.subject)
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := &captureBroadcaster{}, &captureBroadcaster{}
	Multi{NewHubSink(a, nil), nil, Discard{}, NewHubSink(b, nil)}.Publish(context.Background(), Event{ProjectID: 3})
	if a.projectID != 3 || b.projectID != 3 {
		t.Fatalf("expected both sinks to receive the event")
	}
}
