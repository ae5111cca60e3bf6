package listener

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/eventbus"
	"github.com/blockedby/positions-os/internal/extractor"
	"github.com/blockedby/positions-os/internal/models"
)

type fakeDialogs struct {
	dialog *models.Dialog
}

func (f *fakeDialogs) GetByUpstreamID(ctx context.Context, upstreamID int64) (*models.Dialog, error) {
	return f.dialog, nil
}

type fakeUsers struct {
	nextID int64
}

func (f *fakeUsers) UpsertStub(ctx context.Context, upstreamID, accessHash int64) (int64, error) {
	f.nextID++
	return f.nextID, nil
}

type fakeMessages struct {
	inserted []models.Message
	nextID   int64
	seen     map[int64]bool
}

func newFakeMessages() *fakeMessages { return &fakeMessages{seen: make(map[int64]bool)} }

func (f *fakeMessages) Upsert(ctx context.Context, m *models.Message) (int64, bool, error) {
	key := m.DialogID<<32 | m.UpstreamMessageID
	if f.seen[key] {
		return 1, false, nil
	}
	f.seen[key] = true
	f.nextID++
	f.inserted = append(f.inserted, *m)
	return f.nextID, true, nil
}

type fakeMedia struct {
	calls int
}

func (f *fakeMedia) InsertQueued(ctx context.Context, messageID int64, fileType models.MediaFileType, priority int) (int64, error) {
	f.calls++
	return int64(f.calls), nil
}

type fakeDetections struct {
	inserted []models.Detection
}

func (f *fakeDetections) InsertDetections(ctx context.Context, detections []models.Detection) error {
	f.inserted = append(f.inserted, detections...)
	return nil
}

type fakeEnqueuer struct {
	calls int
}

func (f *fakeEnqueuer) Enqueue(mediaID int64, priority int) { f.calls++ }

// fakeTx runs the writers in-process with no real transactional semantics,
// standing in for the pgx-transaction-backed TxRunner used in production.
type fakeTx struct {
	messages   MessageWriter
	media      MediaWriter
	detections DetectionWriter
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context, messages MessageWriter, media MediaWriter, detections DetectionWriter) error) error {
	return fn(ctx, f.messages, f.media, f.detections)
}

func newTestListener(dialog *models.Dialog) (*Listener, *fakeMessages, *fakeDetections, *fakeMedia, *fakeEnqueuer) {
	ext := extractor.New(&config.Config{})
	ext.SetDetectors([]models.Detector{
		{ID: 1, Name: "email", Pattern: `[\w.]+@[\w.]+`, Category: models.DetectionTypeEmail, Priority: 10, IsActive: true},
	})

	msgs := newFakeMessages()
	dets := &fakeDetections{}
	media := &fakeMedia{}
	enq := &fakeEnqueuer{}
	tx := &fakeTx{messages: msgs, media: media, detections: dets}

	l := New(&fakeDialogs{dialog: dialog}, &fakeUsers{}, tx, ext, eventbus.New(16), enq)
	return l, msgs, dets, media, enq
}

func monitoredDialog() *models.Dialog {
	acc := int64(1)
	return &models.Dialog{ID: 5, UpstreamID: 100, Status: models.DialogStatusActive, AssignedAccount: &acc, DownloadMedia: true}
}

func TestHandle_PersistsMessageAndDetection(t *testing.T) {
	l, msgs, dets, _, _ := newTestListener(monitoredDialog())

	upd := &tg.UpdateNewMessage{Message: &tg.Message{
		ID:      42,
		PeerID:  &tg.PeerChannel{ChannelID: 100},
		FromID:  &tg.PeerUser{UserID: 7},
		Message: "contact me at a@b.com",
		Date:    1700000000,
	}}

	if err := l.Handle(context.Background(), tg.Entities{}, upd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(msgs.inserted) != 1 {
		t.Fatalf("expected 1 message inserted, got %d", len(msgs.inserted))
	}
	if msgs.inserted[0].Text != "contact me at a@b.com" {
		t.Errorf("unexpected text: %q", msgs.inserted[0].Text)
	}
	if len(dets.inserted) != 1 || dets.inserted[0].NormalizedValue != "a@b.com" {
		t.Fatalf("expected 1 email detection, got %+v", dets.inserted)
	}
}

func TestHandle_SkipsUnmonitoredDialog(t *testing.T) {
	l, msgs, _, _, _ := newTestListener(nil)

	upd := &tg.UpdateNewMessage{Message: &tg.Message{
		ID:      1,
		PeerID:  &tg.PeerChannel{ChannelID: 999},
		Message: "hello",
	}}

	if err := l.Handle(context.Background(), tg.Entities{}, upd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(msgs.inserted) != 0 {
		t.Errorf("expected no message persisted for unmonitored dialog")
	}
}

func TestHandle_DiscardsLateRedeliveredMessage(t *testing.T) {
	l, msgs, _, _, _ := newTestListener(monitoredDialog())

	upd := &tg.UpdateNewMessage{Message: &tg.Message{
		ID:     42,
		PeerID: &tg.PeerChannel{ChannelID: 100},
		Message: "first delivery",
	}}
	if err := l.Handle(context.Background(), tg.Entities{}, upd); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := l.Handle(context.Background(), tg.Entities{}, upd); err != nil {
		t.Fatalf("redelivered handle: %v", err)
	}
	if len(msgs.inserted) != 1 {
		t.Errorf("expected exactly 1 insert across redelivery, got %d", len(msgs.inserted))
	}
}

func TestHandle_QueuesMediaWhenDownloadEnabled(t *testing.T) {
	l, _, _, media, enq := newTestListener(monitoredDialog())

	upd := &tg.UpdateNewMessage{Message: &tg.Message{
		ID:     43,
		PeerID: &tg.PeerChannel{ChannelID: 100},
		Media:  &tg.MessageMediaPhoto{},
	}}

	if err := l.Handle(context.Background(), tg.Entities{}, upd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if media.calls != 1 {
		t.Errorf("expected media queued once, got %d", media.calls)
	}
	if enq.calls != 1 {
		t.Errorf("expected pipeline enqueued once, got %d", enq.calls)
	}
}

func TestHandle_IgnoresNonMessageUpdates(t *testing.T) {
	l, msgs, _, _, _ := newTestListener(monitoredDialog())

	upd := &tg.UpdateNewMessage{Message: &tg.MessageEmpty{ID: 1}}
	if err := l.Handle(context.Background(), tg.Entities{}, upd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(msgs.inserted) != 0 {
		t.Errorf("expected no message for non-Message update")
	}
}
