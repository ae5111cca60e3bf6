package publisher

import (
	"testing"

	"github.com/blockedby/positions-os/internal/eventbus"
)

// mockNATSClient mocks the nats client operations we need.
type mockNATSClient struct {
	PublishedSubject string
	PublishedData    []byte
	PublishError     error
}

func (m *mockNATSClient) Publish(subject string, data []byte) error {
	m.PublishedSubject = subject
	m.PublishedData = data
	return m.PublishError
}

func TestPublish_RelaysMessageEventToItsSubject(t *testing.T) {
	mock := &mockNATSClient{}
	pub := &NATSPublisher{conn: mock}

	err := pub.Publish(eventbus.Event{
		Kind:    eventbus.KindNewMessage,
		Payload: &eventbus.BackfillProgress{DialogID: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.PublishedSubject != "ingest.messages.new" {
		t.Errorf("subject = %s, want ingest.messages.new", mock.PublishedSubject)
	}
	if len(mock.PublishedData) == 0 {
		t.Error("payload should not be empty")
	}
}

func TestPublish_DropsUnknownKindSilently(t *testing.T) {
	mock := &mockNATSClient{}
	pub := &NATSPublisher{conn: mock}

	if err := pub.Publish(eventbus.Event{Kind: "unregistered"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.PublishedSubject != "" {
		t.Errorf("expected no publish for unregistered kind, got subject %q", mock.PublishedSubject)
	}
}
