// Package eventbus is the in-process pub/sub fan-out for domain events,
// sitting between the live listener/backfill/enrichment producers and the
// WebSocket hub and NATS bridge consumers.
package eventbus

import "sync"

// Kind identifies the event stream a Bus carries, matching the web
// package's WSEvent.Type values so subscribers can route by kind without
// importing internal/web.
type Kind string

// Event kinds.
const (
	KindNewMessage        Kind = "new_message"
	KindNewDetection      Kind = "new_detection"
	KindBackfillProgress  Kind = "backfill_progress"
	KindDialogStatus      Kind = "dialog_status"
	KindAccountStatus     Kind = "account_status"
)

// Event is an envelope carrying a kind and its JSON-encodable payload.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// BackfillProgress is the Payload for KindBackfillProgress.
type BackfillProgress struct {
	DialogID     int64
	Frontier     int64
	MessagesDone int
	Done         bool
}

// DialogStatusChange is the Payload for KindDialogStatus.
type DialogStatusChange struct {
	DialogID int64
	Status   string
}

// AccountStatusChange is the Payload for KindAccountStatus.
type AccountStatusChange struct {
	AccountID int64
	Status    string
}

// overflowPolicy governs what Publish does when a subscriber's channel is
// full: either the oldest buffered event is dropped to make room, or the
// publisher blocks until the subscriber drains.
type overflowPolicy int

const (
	dropOldest overflowPolicy = iota
	blockOnFull
)

// backfillKinds block on a full subscriber channel rather than drop: losing
// a backfill_progress update means the UI's progress bar silently stalls,
// whereas dropping a stale new_message/new_detection update is harmless
// since newer ones supersede it.
var backfillKinds = map[Kind]bool{
	KindBackfillProgress: true,
}

// Bus fans out published events to every active subscriber. Each
// subscriber has its own bounded channel; for every kind except backfill
// progress, a slow subscriber never blocks delivery to the others. A
// backfill-progress event waits on each full subscriber in turn.
type Bus struct {
	bufferSize int

	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New builds a Bus whose subscriber channels are sized bufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize, subs: make(map[int]chan Event)}
}

// Subscription is a handle returned by Subscribe. Call Close to stop
// receiving events and release the channel.
type Subscription struct {
	bus *Bus
	id  int
	ch  chan Event
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
	s.bus.mu.Unlock()
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{bus: b, id: id, ch: ch}
}

// Publish fans ev out to every current subscriber. Backfill-progress events
// block on a full channel until that subscriber drains it; everything else
// drops the oldest
// buffered event to make room rather than block the producer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	policy := dropOldest
	if backfillKinds[ev.Kind] {
		policy = blockOnFull
	}

	for _, ch := range b.subs {
		switch policy {
		case blockOnFull:
			ch <- ev
		default:
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}
}

// SubscriberCount reports the number of active subscriptions, mostly for tests
// and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
