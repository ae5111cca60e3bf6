package enrichment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/blockedby/positions-os/internal/models"
)

func TestParticipantInfo_UnrecognizedParticipantIsZero(t *testing.T) {
	uid, isAdmin, title := participantInfo(nil)
	if uid != 0 || isAdmin || title != nil {
		t.Errorf("expected zero value for unrecognized participant, got (%d, %v, %v)", uid, isAdmin, title)
	}
}

func TestStrPtrIfSet(t *testing.T) {
	if strPtrIfSet("") != nil {
		t.Error("expected nil for empty string")
	}
	if p := strPtrIfSet("owner"); p == nil || *p != "owner" {
		t.Errorf("expected pointer to %q, got %v", "owner", p)
	}
}

func TestRunBounded_VisitsEveryItemWithinConcurrencyCap(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var mu sync.Mutex
	sum := 0
	runBounded(4, items, func(i int) {
		mu.Lock()
		sum += i
		mu.Unlock()
	})

	if sum != (49*50)/2 {
		t.Errorf("expected all items visited exactly once, got sum %d", sum)
	}
}

func TestRunBounded_EmptyInputIsNoop(t *testing.T) {
	calls := 0
	runBounded(4, []int{}, func(int) { calls++ })
	if calls != 0 {
		t.Errorf("expected no calls for empty input, got %d", calls)
	}
}

type fakeDialogStore struct {
	dialogs []models.Dialog
}

func (f *fakeDialogStore) ListScrapable(ctx context.Context) ([]models.Dialog, error) { return f.dialogs, nil }
func (f *fakeDialogStore) UpdateMemberScrapeAt(ctx context.Context, dialogID int64) error { return nil }

func TestStatus_ReportsRunningState(t *testing.T) {
	s := &Scheduler{memberInterval: 5 * time.Minute, photoInterval: time.Hour, storyInterval: time.Hour}
	s.memberBusy.Store(true)

	got := s.Status()
	if len(got) != 3 {
		t.Fatalf("expected 3 scanner statuses, got %d", len(got))
	}
	for _, st := range got {
		if st.Name == ScannerMemberScrape && !st.Running {
			t.Error("expected member_scrape to report running")
		}
		if st.Name == ScannerProfilePhotos && st.Running {
			t.Error("expected profile_photos to report idle")
		}
	}
}

func TestSetInterval_UpdatesNamedScanner(t *testing.T) {
	s := &Scheduler{memberInterval: time.Hour}
	s.SetInterval(ScannerMemberScrape, 10*time.Minute)
	if s.memberInterval != 10*time.Minute {
		t.Errorf("expected memberInterval to update, got %s", s.memberInterval)
	}
}

func TestRunMemberScrape_SkipsWhenAlreadyRunning(t *testing.T) {
	s := &Scheduler{dialogs: &fakeDialogStore{dialogs: []models.Dialog{{ID: 1}}}, workers: 2}
	s.memberBusy.Store(true)
	s.runMemberScrape(context.Background())
	// no panic, no-op since busy flag was already set
	if !s.memberBusy.Load() {
		t.Error("expected busy flag to remain set (single-flight skip shouldn't touch it)")
	}
}
