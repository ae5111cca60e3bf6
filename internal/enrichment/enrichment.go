// Package enrichment implements the three background scanners that fill in
// participant, profile-photo, and story data the live listener and backfill
// coordinator never see directly: the Member Scraper, the Profile-Photo
// Scanner, and the Story Scanner.
package enrichment

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/telegram"
)

// DialogStore is the subset of the dialogs repository the member scraper
// needs.
type DialogStore interface {
	ListScrapable(ctx context.Context) ([]models.Dialog, error)
	UpdateMemberScrapeAt(ctx context.Context, dialogID int64) error
}

// UserStore is the subset of the users repository the enrichment scanners
// need.
type UserStore interface {
	UpsertMembership(ctx context.Context, m *models.Membership) error
	StaleForEnrichment(ctx context.Context, freshnessWindow time.Duration, limit int) ([]int64, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ListWithStories(ctx context.Context, limit int) ([]models.User, error)
	MarkEnriched(ctx context.Context, userID int64) error
	SetHasStories(ctx context.Context, userID int64, has bool) error
	Upsert(ctx context.Context, observed *models.User, policy models.MergePolicy) (int64, error)
}

// ProfilePhotoStore is the subset of the profile photos repository the
// photo scanner needs.
type ProfilePhotoStore interface {
	Upsert(ctx context.Context, p *models.ProfilePhoto) (int64, error)
	SetCurrent(ctx context.Context, userID, photoID int64) error
}

// StoryStore is the subset of the stories repository the story scanner
// needs.
type StoryStore interface {
	Upsert(ctx context.Context, s *models.Story) (int64, error)
}

// SessionProvider resolves a running session by account ID, used to place
// enrichment calls on an account that is actually online.
type SessionProvider interface {
	Any() (*telegram.Session, bool)
	Get(accountID int64) (*telegram.Session, bool)
}

// Scheduler runs the three enrichment scanners on their own tickers, each
// globally single-flight: a tick that fires while the previous run of the
// same scanner is still in flight is dropped rather than queued.
type Scheduler struct {
	dialogs DialogStore
	users   UserStore
	photos  ProfilePhotoStore
	stories StoryStore
	sessions SessionProvider
	log     *logger.Logger

	memberInterval time.Duration
	photoInterval  time.Duration
	storyInterval  time.Duration
	freshness      time.Duration
	batchSize      int
	workers        int

	memberBusy atomic.Bool
	photoBusy  atomic.Bool
	storyBusy  atomic.Bool
}

// New builds a Scheduler from cfg's enrichment knobs.
func New(dialogs DialogStore, users UserStore, photos ProfilePhotoStore, stories StoryStore, sessions SessionProvider, cfg *config.Config) *Scheduler {
	return &Scheduler{
		dialogs:        dialogs,
		users:          users,
		photos:         photos,
		stories:        stories,
		sessions:       sessions,
		log:            logger.Get(),
		memberInterval: cfg.MemberScrapeInterval,
		photoInterval:  cfg.ProfilePhotoScanInterval,
		storyInterval:  cfg.StoryScanInterval,
		freshness:      cfg.EnrichmentFreshnessWindow,
		batchSize:      cfg.UserEnrichmentBatchSize,
		workers:        cfg.EnrichmentParallelWorkers,
	}
}

// Run blocks, driving all three scanner loops until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	go s.loop(ctx, s.memberInterval, s.runMemberScrape)
	go s.loop(ctx, s.photoInterval, s.runPhotoScan)
	s.loop(ctx, s.storyInterval, s.runStoryScan)
}

// ScannerName identifies one of the three enrichment scanners for the
// settings/run_now/status admin surface.
type ScannerName string

// ScannerName constants, matching the admin API's scheduler group names.
const (
	ScannerMemberScrape   ScannerName = "member_scrape"
	ScannerProfilePhotos  ScannerName = "profile_photos"
	ScannerStories        ScannerName = "stories"
)

// ScannerStatus reports one scanner's current configuration and in-flight
// state.
type ScannerStatus struct {
	Name     ScannerName
	Interval time.Duration
	Running  bool
}

// Status returns the current interval and busy state of every scanner.
func (s *Scheduler) Status() []ScannerStatus {
	return []ScannerStatus{
		{Name: ScannerMemberScrape, Interval: s.memberInterval, Running: s.memberBusy.Load()},
		{Name: ScannerProfilePhotos, Interval: s.photoInterval, Running: s.photoBusy.Load()},
		{Name: ScannerStories, Interval: s.storyInterval, Running: s.storyBusy.Load()},
	}
}

// SetInterval updates a scanner's configured ticker period, which Status
// reports at once. Run reads the interval only when it starts a loop, so a
// loop that is already running keeps ticking at its old period.
func (s *Scheduler) SetInterval(name ScannerName, interval time.Duration) {
	switch name {
	case ScannerMemberScrape:
		s.memberInterval = interval
	case ScannerProfilePhotos:
		s.photoInterval = interval
	case ScannerStories:
		s.storyInterval = interval
	}
}

// RunNow triggers an out-of-cycle run of the named scanner. Subject to the
// same single-flight guard as the ticker-driven runs: a scanner already in
// flight ignores the request rather than queuing a second run.
func (s *Scheduler) RunNow(ctx context.Context, name ScannerName) {
	switch name {
	case ScannerMemberScrape:
		go s.runMemberScrape(ctx)
	case ScannerProfilePhotos:
		go s.runPhotoScan(ctx)
	case ScannerStories:
		go s.runStoryScan(ctx)
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runMemberScrape lists every scrapable dialog and scrapes its participant
// list, bounded to s.workers concurrent dialogs at a time.
func (s *Scheduler) runMemberScrape(ctx context.Context) {
	if !s.memberBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.memberBusy.Store(false)

	dialogs, err := s.dialogs.ListScrapable(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("enrichment: list scrapable dialogs failed")
		return
	}

	runBounded(s.workers, dialogs, func(d models.Dialog) {
		if err := s.scrapeDialog(ctx, d); err != nil {
			s.log.Error().Err(err).Int64("dialog_id", d.ID).Msg("enrichment: member scrape failed")
			return
		}
		if err := s.dialogs.UpdateMemberScrapeAt(ctx, d.ID); err != nil {
			s.log.Error().Err(err).Int64("dialog_id", d.ID).Msg("enrichment: stamp member scrape time failed")
		}
	})
}

func (s *Scheduler) scrapeDialog(ctx context.Context, d models.Dialog) error {
	if d.AssignedAccount == nil {
		return nil
	}
	sess, ok := s.sessions.Get(*d.AssignedAccount)
	if !ok {
		return nil
	}

	if d.Type == models.DialogTypeSupergroup {
		return s.scrapeChannel(ctx, sess, d)
	}
	return s.scrapeChat(ctx, sess, d)
}

// scrapeChannel pages through a supergroup's member list via
// channels.getParticipants, the only participant listing channels allow.
func (s *Scheduler) scrapeChannel(ctx context.Context, sess *telegram.Session, d models.Dialog) error {
	const pageSize = 200
	offset := 0
	for {
		v, err := sess.Call(ctx, telegram.PriorityEnrichment, func(ctx context.Context) (interface{}, error) {
			return sess.API().ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
				Channel: &tg.InputChannel{ChannelID: d.UpstreamID, AccessHash: d.AccessHash},
				Filter:  &tg.ChannelParticipantsRecent{},
				Offset:  offset,
				Limit:   pageSize,
			})
		})
		if err != nil {
			return err
		}
		result, ok := v.(*tg.ChannelsChannelParticipants)
		if !ok {
			return nil
		}

		users := indexUsers(result.Users)
		for _, p := range result.Participants {
			uid, isAdmin, adminTitle := participantInfo(p)
			if uid == 0 {
				continue
			}
			if err := s.upsertParticipant(ctx, d.ID, uid, isAdmin, adminTitle, users); err != nil {
				return err
			}
		}

		if len(result.Participants) < pageSize {
			return nil
		}
		offset += len(result.Participants)
	}
}

// scrapeChat fetches a plain group's full participant list via
// messages.getFullChat, which returns the whole membership in one call
// (plain groups cap out at 200 members).
func (s *Scheduler) scrapeChat(ctx context.Context, sess *telegram.Session, d models.Dialog) error {
	v, err := sess.Call(ctx, telegram.PriorityEnrichment, func(ctx context.Context) (interface{}, error) {
		return sess.API().MessagesGetFullChat(ctx, d.UpstreamID)
	})
	if err != nil {
		return err
	}
	result, ok := v.(*tg.MessagesChatFull)
	if !ok {
		return nil
	}
	full, ok := result.FullChat.(*tg.ChatFull)
	if !ok {
		return nil
	}
	participantsClass, ok := full.Participants.(*tg.ChatParticipants)
	if !ok {
		return nil
	}

	users := indexUsers(result.Users)
	for _, p := range participantsClass.Participants {
		var uid int64
		var isAdmin bool
		switch v := p.(type) {
		case *tg.ChatParticipant:
			uid = v.UserID
		case *tg.ChatParticipantCreator:
			uid, isAdmin = v.UserID, true
		case *tg.ChatParticipantAdmin:
			uid, isAdmin = v.UserID, true
		}
		if uid == 0 {
			continue
		}
		if err := s.upsertParticipant(ctx, d.ID, uid, isAdmin, nil, users); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) upsertParticipant(ctx context.Context, dialogID, upstreamUserID int64, isAdmin bool, adminTitle *string, users map[int64]*tg.User) error {
	observed := &models.User{UpstreamID: upstreamUserID}
	if u, ok := users[upstreamUserID]; ok {
		observed.AccessHash = u.AccessHash
		observed.IsBot = u.Bot
		observed.IsVerified = u.Verified
		observed.IsPremium = u.Premium
		observed.IsScam = u.Scam
		observed.IsFake = u.Fake
		if u.Username != "" {
			username := u.Username
			observed.Username = &username
		}
		if u.FirstName != "" {
			fn := u.FirstName
			observed.FirstName = &fn
		}
		if u.LastName != "" {
			ln := u.LastName
			observed.LastName = &ln
		}
	}

	userID, err := s.users.Upsert(ctx, observed, models.DefaultMergePolicy())
	if err != nil {
		return err
	}
	return s.users.UpsertMembership(ctx, &models.Membership{UserID: userID, DialogID: dialogID, IsAdmin: isAdmin, AdminTitle: adminTitle})
}

func participantInfo(p tg.ChannelParticipantClass) (upstreamID int64, isAdmin bool, adminTitle *string) {
	switch v := p.(type) {
	case *tg.ChannelParticipant:
		return v.UserID, false, nil
	case *tg.ChannelParticipantSelf:
		return v.UserID, false, nil
	case *tg.ChannelParticipantCreator:
		rank := v.Rank
		return v.UserID, true, strPtrIfSet(rank)
	case *tg.ChannelParticipantAdmin:
		rank := v.Rank
		return v.UserID, true, strPtrIfSet(rank)
	default:
		return 0, false, nil
	}
}

func strPtrIfSet(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func indexUsers(us []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(us))
	for _, uc := range us {
		if u, ok := uc.(*tg.User); ok {
			out[u.ID] = u
		}
	}
	return out
}

// runPhotoScan iterates stale users and refreshes their profile photo
// history via photos.getUserPhotos.
func (s *Scheduler) runPhotoScan(ctx context.Context) {
	if !s.photoBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.photoBusy.Store(false)

	ids, err := s.users.StaleForEnrichment(ctx, s.freshness, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("enrichment: list stale users for photo scan failed")
		return
	}

	runBounded(s.workers, ids, func(userID int64) {
		if err := s.scanPhotos(ctx, userID); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("enrichment: photo scan failed")
			return
		}
		if err := s.users.MarkEnriched(ctx, userID); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("enrichment: mark enriched failed")
		}
	})
}

func (s *Scheduler) scanPhotos(ctx context.Context, userID int64) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return err
	}
	sess, ok := s.sessions.Any()
	if !ok {
		return nil
	}

	v, err := sess.Call(ctx, telegram.PriorityEnrichment, func(ctx context.Context) (interface{}, error) {
		return sess.API().PhotosGetUserPhotos(ctx, &tg.PhotosGetUserPhotosRequest{
			UserID: &tg.InputUser{UserID: u.UpstreamID, AccessHash: u.AccessHash},
			Limit:  20,
		})
	})
	if err != nil {
		return err
	}

	var photos []tg.PhotoClass
	switch r := v.(type) {
	case *tg.PhotosPhotos:
		photos = r.Photos
	case *tg.PhotosPhotosSlice:
		photos = r.Photos
	default:
		return nil
	}
	if len(photos) == 0 {
		return nil
	}

	var currentID int64
	for i, pc := range photos {
		photo, ok := pc.(*tg.Photo)
		if !ok {
			continue
		}
		id, err := s.photos.Upsert(ctx, &models.ProfilePhoto{
			UserID:          userID,
			UpstreamPhotoID: photo.ID,
			CapturedAt:      time.Unix(int64(photo.Date), 0),
		})
		if err != nil {
			return err
		}
		if i == 0 {
			currentID = id
		}
	}
	if currentID != 0 {
		return s.photos.SetCurrent(ctx, userID, currentID)
	}
	return nil
}

// runStoryScan iterates users flagged has_stories and pulls their active
// story list via stories.getPeerStories.
func (s *Scheduler) runStoryScan(ctx context.Context) {
	if !s.storyBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.storyBusy.Store(false)

	users, err := s.users.ListWithStories(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("enrichment: list users with stories failed")
		return
	}

	runBounded(s.workers, users, func(u models.User) {
		if err := s.scanStories(ctx, u); err != nil {
			s.log.Error().Err(err).Int64("user_id", u.ID).Msg("enrichment: story scan failed")
		}
	})
}

func (s *Scheduler) scanStories(ctx context.Context, u models.User) error {
	sess, ok := s.sessions.Any()
	if !ok {
		return nil
	}

	v, err := sess.Call(ctx, telegram.PriorityEnrichment, func(ctx context.Context) (interface{}, error) {
		return sess.API().StoriesGetPeerStories(ctx, &tg.InputPeerUser{UserID: u.UpstreamID, AccessHash: u.AccessHash})
	})
	if err != nil {
		return err
	}
	result, ok := v.(*tg.StoriesPeerStories)
	if !ok {
		return nil
	}

	var anyActive bool
	for _, sic := range result.Stories.Stories {
		item, ok := sic.(*tg.StoryItem)
		if !ok {
			continue
		}
		anyActive = true
		views := 0
		if v, ok := item.GetViews(); ok {
			views = v.ViewsCount
		}
		if _, err := s.stories.Upsert(ctx, &models.Story{
			UserID:          u.ID,
			UpstreamStoryID: int64(item.ID),
			ExpiresAt:       time.Unix(int64(item.ExpireDate), 0),
			ViewsCount:      views,
			IsPinned:        item.Pinned,
		}); err != nil {
			return err
		}
	}
	return s.users.SetHasStories(ctx, u.ID, anyActive)
}

// runBounded runs fn over items with at most n concurrent goroutines.
func runBounded[T any](n int, items []T, fn func(T)) {
	if n <= 0 {
		n = 1
	}
	sem := make(chan struct{}, n)
	done := make(chan struct{})
	remaining := len(items)
	if remaining == 0 {
		return
	}
	for _, item := range items {
		item := item
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				done <- struct{}{}
			}()
			fn(item)
		}()
	}
	for i := 0; i < remaining; i++ {
		<-done
	}
}
