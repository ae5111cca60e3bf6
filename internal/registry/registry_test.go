package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/blockedby/positions-os/internal/models"
)

type fakeStore struct {
	assignments map[int64]*int64
	statuses    map[int64]models.DialogStatus
	dialogCount map[int64]int
	messages    map[int64]int64
	enabled     []int64
	updateErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assignments: make(map[int64]*int64),
		statuses:    make(map[int64]models.DialogStatus),
		dialogCount: make(map[int64]int),
		messages:    make(map[int64]int64),
	}
}

func (f *fakeStore) Get(ctx context.Context, dialogID int64) (*models.Dialog, error) {
	return &models.Dialog{ID: dialogID, AssignedAccount: f.assignments[dialogID], Status: f.statuses[dialogID]}, nil
}

func (f *fakeStore) UpdateAssignment(ctx context.Context, dialogID int64, accountID *int64, status models.DialogStatus) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.assignments[dialogID] = accountID
	f.statuses[dialogID] = status
	return nil
}

func (f *fakeStore) UpdateOptions(ctx context.Context, dialogID int64, downloadMedia, ocrEnabled, backfillEnabled bool) error {
	return nil
}

func (f *fakeStore) CountAssigned(ctx context.Context, accountID int64) (int, error) {
	return f.dialogCount[accountID], nil
}

func (f *fakeStore) MessagesCollected(ctx context.Context, accountID int64) (int64, error) {
	return f.messages[accountID], nil
}

func (f *fakeStore) ListEnabledAccountIDs(ctx context.Context) ([]int64, error) {
	return f.enabled, nil
}

type fakeBackfill struct {
	started []int64
	stopped []int64
	err     error
}

func (f *fakeBackfill) Start(ctx context.Context, dialogID int64) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, dialogID)
	return nil
}

func (f *fakeBackfill) Stop(dialogID int64) {
	f.stopped = append(f.stopped, dialogID)
}

func TestRegistry_AssignExplicitAccount(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil)

	acc := int64(7)
	if err := r.Assign(context.Background(), 1, &acc); err != nil {
		t.Fatal(err)
	}

	gotAcc, status, known := r.Status(1)
	if !known || gotAcc == nil || *gotAcc != 7 || status != models.DialogStatusActive {
		t.Fatalf("unexpected state: acc=%v status=%v known=%v", gotAcc, status, known)
	}
}

func TestRegistry_AssignAlreadyOwnedFails(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil)

	acc := int64(1)
	if err := r.Assign(context.Background(), 1, &acc); err != nil {
		t.Fatal(err)
	}

	acc2 := int64(2)
	if err := r.Assign(context.Background(), 1, &acc2); err == nil {
		t.Fatal("expected error assigning an already-owned dialog")
	}
}

func TestRegistry_AssignAutoPicksLeastLoaded(t *testing.T) {
	store := newFakeStore()
	store.enabled = []int64{1, 2, 3}
	store.dialogCount[1] = 5
	store.dialogCount[2] = 1
	store.dialogCount[3] = 1
	store.messages[2] = 100
	store.messages[3] = 10

	r := New(store, nil)
	if err := r.Assign(context.Background(), 42, nil); err != nil {
		t.Fatal(err)
	}

	gotAcc, _, _ := r.Status(42)
	if gotAcc == nil || *gotAcc != 3 {
		t.Fatalf("expected account 3 (fewest dialogs, then fewest messages), got %v", gotAcc)
	}
}

func TestRegistry_UnassignClearsOwnership(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil)

	acc := int64(1)
	_ = r.Assign(context.Background(), 1, &acc)
	if err := r.Unassign(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	gotAcc, status, _ := r.Status(1)
	if gotAcc != nil || status != models.DialogStatusInactive {
		t.Fatalf("expected cleared ownership, got acc=%v status=%v", gotAcc, status)
	}
}

func TestRegistry_PauseResume(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil)

	acc := int64(1)
	_ = r.Assign(context.Background(), 1, &acc)

	if err := r.Pause(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	_, status, _ := r.Status(1)
	if status != models.DialogStatusPaused {
		t.Fatalf("expected paused, got %s", status)
	}

	if err := r.Resume(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	_, status, _ = r.Status(1)
	if status != models.DialogStatusActive {
		t.Fatalf("expected active, got %s", status)
	}
}

func TestRegistry_StartBackfillRequiresAssignment(t *testing.T) {
	store := newFakeStore()
	bf := &fakeBackfill{}
	r := New(store, bf)

	if err := r.StartBackfill(context.Background(), 1); err == nil {
		t.Fatal("expected error starting backfill on unassigned dialog")
	}
}

func TestRegistry_StartBackfillIsIdempotent(t *testing.T) {
	store := newFakeStore()
	bf := &fakeBackfill{}
	r := New(store, bf)

	acc := int64(1)
	_ = r.Assign(context.Background(), 1, &acc)

	if err := r.StartBackfill(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if err := r.StartBackfill(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if len(bf.started) != 1 {
		t.Fatalf("expected backfill to start exactly once, got %d calls", len(bf.started))
	}
}

func TestRegistry_StartBackfillResetsFlagOnError(t *testing.T) {
	store := newFakeStore()
	bf := &fakeBackfill{err: errors.New("session unavailable")}
	r := New(store, bf)

	acc := int64(1)
	_ = r.Assign(context.Background(), 1, &acc)

	if err := r.StartBackfill(context.Background(), 1); err == nil {
		t.Fatal("expected error to propagate")
	}

	bf.err = nil
	if err := r.StartBackfill(context.Background(), 1); err != nil {
		t.Fatalf("expected retry to succeed after clearing error, got %v", err)
	}
	if len(bf.started) != 1 {
		t.Fatalf("expected exactly one successful start, got %d", len(bf.started))
	}
}
