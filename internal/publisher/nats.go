// Package publisher bridges the in-process event bus onto NATS subjects so
// external consumers can subscribe to domain events without coupling to the
// engine's in-memory pub/sub.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/blockedby/positions-os/internal/eventbus"
	"github.com/blockedby/positions-os/internal/logger"
)

// subjectByKind maps an eventbus.Kind to its NATS subject.
var subjectByKind = map[eventbus.Kind]string{
	eventbus.KindNewMessage:       "ingest.messages.new",
	eventbus.KindNewDetection:     "ingest.detections.new",
	eventbus.KindBackfillProgress: "ingest.backfill.progress",
	eventbus.KindDialogStatus:     "ingest.dialogs.status",
	eventbus.KindAccountStatus:    "ingest.accounts.status",
}

// NATSClient is the publish surface the bridge needs. Satisfied directly
// by *nats.Conn.
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher relays eventbus.Event values onto NATS subjects.
type NATSPublisher struct {
	conn NATSClient
	log  *logger.Logger
}

// NewNATSPublisher builds a bridge over an already-connected NATS conn.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn, log: logger.Get()}
}

// Publish marshals ev.Payload and publishes it to ev.Kind's subject. Events
// with no configured subject are dropped rather than erroring, so adding a
// new eventbus.Kind doesn't require touching every publisher.
func (p *NATSPublisher) Publish(ev eventbus.Event) error {
	subject, ok := subjectByKind[ev.Kind]
	if !ok {
		return nil
	}

	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Kind, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Run subscribes to bus and relays every event to NATS until ctx is
// canceled or the subscription is closed.
func (p *NATSPublisher) Run(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				p.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("publisher: relay to nats failed")
			}
		}
	}
}
