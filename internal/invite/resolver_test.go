package invite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/models"
)

type fakeInviteStore struct {
	invites   map[int64]*models.Invite
	resolved  *models.Invite
	failedTo  models.InviteStatus
	lastJoin  map[int64]time.Time
	joinCount map[int64]int
}

func (f *fakeInviteStore) Create(ctx context.Context, link string, source models.Invite) (*models.Invite, error) {
	return nil, nil
}
func (f *fakeInviteStore) Get(ctx context.Context, id int64) (*models.Invite, error) {
	return f.invites[id], nil
}
func (f *fakeInviteStore) UpdateResolved(ctx context.Context, id int64, hash string, status models.InviteStatus, title, about *string, memberCount *int, isChannel bool) error {
	f.resolved = &models.Invite{
		ID:                 id,
		InviteHash:         hash,
		Status:             status,
		PreviewIsChannel:   isChannel,
		PreviewTitle:       title,
		PreviewAbout:       about,
		PreviewMemberCount: memberCount,
	}
	return nil
}
func (f *fakeInviteStore) MarkJoined(ctx context.Context, id, accountID int64, status models.InviteStatus) error {
	return nil
}
func (f *fakeInviteStore) MarkFailed(ctx context.Context, id int64, status models.InviteStatus) error {
	f.failedTo = status
	return nil
}
func (f *fakeInviteStore) LastJoinAt(ctx context.Context, accountID int64) (*time.Time, error) {
	if t, ok := f.lastJoin[accountID]; ok {
		return &t, nil
	}
	return nil, nil
}
func (f *fakeInviteStore) JoinCountSince(ctx context.Context, accountID int64, cutoff time.Time) (int, error) {
	return f.joinCount[accountID], nil
}

type fakeAccountLister struct {
	ids []int64
}

func (f *fakeAccountLister) ListEnabledIDs(ctx context.Context) ([]int64, error) {
	return f.ids, nil
}

type fakeDialogsStore struct{}

func (f *fakeDialogsStore) Upsert(ctx context.Context, d *models.Dialog) error { return nil }

type fakePreview struct {
	title, about   string
	count          int
	isChannel      bool
	err            error
	calledWithHash string
}

func (f *fakePreview) Preview(ctx context.Context, hash string) (string, string, int, bool, error) {
	f.calledWithHash = hash
	return f.title, f.about, f.count, f.isChannel, f.err
}

func TestResolve_FallsBackToChromePreviewWhenNoAccounts(t *testing.T) {
	inv := &models.Invite{ID: 1, Link: "https://t.me/+abc123"}
	store := &fakeInviteStore{invites: map[int64]*models.Invite{1: inv}}
	r := New(store, &fakeAccountLister{}, &fakeDialogsStore{}, nil, nil, &config.Config{})

	preview := &fakePreview{title: "Cool Channel", about: "a channel", count: 42, isChannel: true}
	r.SetPreviewFallback(preview)

	if err := r.Resolve(context.Background(), 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if preview.calledWithHash != "abc123" {
		t.Errorf("expected preview called with hash abc123, got %q", preview.calledWithHash)
	}
	if store.resolved == nil || store.resolved.PreviewTitle == nil || *store.resolved.PreviewTitle != "Cool Channel" ||
		store.resolved.PreviewMemberCount == nil || *store.resolved.PreviewMemberCount != 42 {
		t.Fatalf("expected resolved invite populated from preview, got %+v", store.resolved)
	}
}

func TestResolve_MarksFailedWhenNoAccountsAndNoPreviewFallback(t *testing.T) {
	inv := &models.Invite{ID: 1, Link: "https://t.me/+abc123"}
	store := &fakeInviteStore{invites: map[int64]*models.Invite{1: inv}}
	r := New(store, &fakeAccountLister{}, &fakeDialogsStore{}, nil, nil, &config.Config{})

	if err := r.Resolve(context.Background(), 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if store.failedTo != models.InviteStatusFailed {
		t.Errorf("expected invite marked failed, got %q", store.failedTo)
	}
}

func TestChooseAccount_SkipsAccountWithinInterJoinDelay(t *testing.T) {
	store := &fakeInviteStore{
		lastJoin: map[int64]time.Time{1: time.Now().Add(-time.Minute)},
	}
	cfg := &config.Config{AutojoinMaxPerDay: 10, AutojoinDelay: time.Hour}
	r := New(store, &fakeAccountLister{ids: []int64{1, 2}}, &fakeDialogsStore{}, nil, nil, cfg)

	got, err := r.chooseAccount(context.Background(), AccountPolicy{})
	if err != nil {
		t.Fatalf("chooseAccount: %v", err)
	}
	if got != 2 {
		t.Errorf("expected account 2 (account 1 still inside its delay window), got %d", got)
	}
}

func TestChooseAccount_RateLimitedWhenEveryAccountWithinDelay(t *testing.T) {
	now := time.Now()
	store := &fakeInviteStore{
		lastJoin: map[int64]time.Time{1: now.Add(-time.Minute), 2: now.Add(-2 * time.Minute)},
	}
	cfg := &config.Config{AutojoinMaxPerDay: 10, AutojoinDelay: time.Hour}
	r := New(store, &fakeAccountLister{ids: []int64{1, 2}}, &fakeDialogsStore{}, nil, nil, cfg)

	_, err := r.chooseAccount(context.Background(), AccountPolicy{})
	if _, ok := err.(*RateLimit); !ok {
		t.Fatalf("expected *RateLimit when every account is within its delay window, got %v", err)
	}
}

func TestChooseAccount_PicksLeastRecentlyJoinedOutsideDelay(t *testing.T) {
	now := time.Now()
	store := &fakeInviteStore{
		lastJoin: map[int64]time.Time{1: now.Add(-2 * time.Hour), 2: now.Add(-3 * time.Hour)},
	}
	cfg := &config.Config{AutojoinMaxPerDay: 10, AutojoinDelay: time.Hour}
	r := New(store, &fakeAccountLister{ids: []int64{1, 2}}, &fakeDialogsStore{}, nil, nil, cfg)

	got, err := r.chooseAccount(context.Background(), AccountPolicy{})
	if err != nil {
		t.Fatalf("chooseAccount: %v", err)
	}
	if got != 2 {
		t.Errorf("expected account 2 (joined longest ago), got %d", got)
	}
}

func TestHash_ExtractsModernForm(t *testing.T) {
	h, ok := Hash("https://t.me/+AbCdEf123")
	if !ok || h != "AbCdEf123" {
		t.Errorf("expected hash AbCdEf123, got %q (ok=%v)", h, ok)
	}
}

func TestHash_ExtractsLegacyJoinchatForm(t *testing.T) {
	h, ok := Hash("https://t.me/joinchat/xyz987")
	if !ok || h != "xyz987" {
		t.Errorf("expected hash xyz987, got %q (ok=%v)", h, ok)
	}
}

func TestHash_RejectsNonInviteLink(t *testing.T) {
	if _, ok := Hash("https://t.me/somepublicchannel"); ok {
		t.Error("expected non-invite link to be rejected")
	}
}

func TestRateLimit_ErrorMessageIncludesDelay(t *testing.T) {
	err := &RateLimit{RetryAfter: 300}
	if !strings.Contains(err.Error(), "300ns") {
		t.Errorf("expected error message to include the delay, got %q", err.Error())
	}
}
