package backfill

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/models"
)

func TestInputPeer_BuildsByDialogType(t *testing.T) {
	cases := []struct {
		dialogType models.DialogType
		wantNil    bool
	}{
		{models.DialogTypeChannel, false},
		{models.DialogTypeSupergroup, false},
		{models.DialogTypeGroup, false},
		{models.DialogTypeUser, false},
		{models.DialogType("unknown"), true},
	}
	for _, c := range cases {
		d := &models.Dialog{Type: c.dialogType, UpstreamID: 1, AccessHash: 2}
		got := inputPeer(d)
		if (got == nil) != c.wantNil {
			t.Errorf("type %q: got nil=%v, want nil=%v", c.dialogType, got == nil, c.wantNil)
		}
	}
}

func TestNormalizeMessage_ExtractsFields(t *testing.T) {
	tm := &tg.Message{
		ID:       10,
		FromID:   &tg.PeerUser{UserID: 99},
		Message:  "hello world",
		Date:     1700000000,
		Views:    5,
		Forwards: 2,
		ReplyTo:  &tg.MessageReplyHeader{ReplyToMsgID: 3},
	}

	m, senderUpstreamID, hasSender, ok := normalizeMessage(7, tm)
	if !ok {
		t.Fatal("expected ok=true for *tg.Message")
	}
	if m.DialogID != 7 || m.UpstreamMessageID != 10 {
		t.Errorf("unexpected keys: %+v", m)
	}
	if m.SenderID != nil {
		t.Errorf("expected normalizeMessage to leave SenderID unresolved, got %v", *m.SenderID)
	}
	if !hasSender || senderUpstreamID != 99 {
		t.Errorf("expected raw sender upstream id 99, got hasSender=%v id=%d", hasSender, senderUpstreamID)
	}
	if m.ReplyTo == nil || *m.ReplyTo != 3 {
		t.Errorf("expected reply_to 3, got %v", m.ReplyTo)
	}
	if m.Text != "hello world" {
		t.Errorf("unexpected text: %q", m.Text)
	}
}

func TestNormalizeMessage_SkipsNonMessagePayload(t *testing.T) {
	_, _, _, ok := normalizeMessage(1, &tg.MessageEmpty{ID: 1})
	if ok {
		t.Error("expected ok=false for MessageEmpty")
	}
}

func TestNormalizeMessage_ForumTopicReplyIsNotTreatedAsReplyTo(t *testing.T) {
	tm := &tg.Message{
		ID:      1,
		ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 3, ForumTopic: true},
	}
	m, _, _, ok := normalizeMessage(1, tm)
	if !ok {
		t.Fatal("expected ok")
	}
	if m.ReplyTo != nil {
		t.Errorf("expected nil reply_to for a forum topic header, got %v", *m.ReplyTo)
	}
}

func TestNormalizeMessage_NoFromIDLeavesSenderUnset(t *testing.T) {
	tm := &tg.Message{ID: 2, Message: "channel post"}
	_, _, hasSender, ok := normalizeMessage(1, tm)
	if !ok {
		t.Fatal("expected ok")
	}
	if hasSender {
		t.Error("expected hasSender=false for a message with no FromID")
	}
}

func TestStop_IsNoopForUnknownDialog(t *testing.T) {
	c := &Coordinator{running: make(map[int64]*dialogRun)}
	c.Stop(999) // must not panic
}

func TestStop_SetsStopFlagOnRunningDialog(t *testing.T) {
	run := &dialogRun{}
	c := &Coordinator{running: map[int64]*dialogRun{5: run}}
	c.Stop(5)

	run.mu.Lock()
	defer run.mu.Unlock()
	if !run.stop {
		t.Error("expected stop flag set")
	}
}

type fakeDialogStore struct {
	dialog    *models.Dialog
	getErr    error
	cursorErr error
	lastFrontier int64
}

func (f *fakeDialogStore) Get(ctx context.Context, dialogID int64) (*models.Dialog, error) {
	return f.dialog, f.getErr
}
func (f *fakeDialogStore) UpdateCursor(ctx context.Context, dialogID, backfillFrontier, lastMessageIDSeen int64) error {
	f.lastFrontier = backfillFrontier
	return f.cursorErr
}
func (f *fakeDialogStore) RecordError(ctx context.Context, dialogID int64, message string) error {
	return nil
}

func TestStart_RejectsUnassignedDialog(t *testing.T) {
	store := &fakeDialogStore{dialog: &models.Dialog{ID: 1, BackfillEnabled: true}}
	c := &Coordinator{dialogs: store, running: make(map[int64]*dialogRun)}

	if err := c.Start(context.Background(), 1); err == nil {
		t.Fatal("expected error for unassigned dialog")
	}
}

func TestStart_RejectsBackfillDisabled(t *testing.T) {
	acc := int64(1)
	store := &fakeDialogStore{dialog: &models.Dialog{ID: 1, AssignedAccount: &acc, BackfillEnabled: false}}
	c := &Coordinator{dialogs: store, running: make(map[int64]*dialogRun)}

	if err := c.Start(context.Background(), 1); err == nil {
		t.Fatal("expected error when backfill disabled")
	}
}

func TestStart_RejectsMissingDialog(t *testing.T) {
	store := &fakeDialogStore{dialog: nil}
	c := &Coordinator{dialogs: store, running: make(map[int64]*dialogRun)}

	if err := c.Start(context.Background(), 1); err == nil {
		t.Fatal("expected error for missing dialog")
	}
}
