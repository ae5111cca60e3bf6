// Package invite implements the Invite Resolver and AutoJoiner: resolving
// t.me invite links to previews and, on request, joining them under an
// account rotation policy subject to a daily cap and inter-join delay.
package invite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/registry"
	"github.com/blockedby/positions-os/internal/telegram"
)

// InviteStore is the persistence surface the resolver needs.
type InviteStore interface {
	Create(ctx context.Context, link string, source models.Invite) (*models.Invite, error)
	Get(ctx context.Context, id int64) (*models.Invite, error)
	UpdateResolved(ctx context.Context, id int64, hash string, status models.InviteStatus, title, about *string, memberCount *int, isChannel bool) error
	MarkJoined(ctx context.Context, id, accountID int64, status models.InviteStatus) error
	MarkFailed(ctx context.Context, id int64, status models.InviteStatus) error
	LastJoinAt(ctx context.Context, accountID int64) (*time.Time, error)
	JoinCountSince(ctx context.Context, accountID int64, cutoff time.Time) (int, error)
}

// AccountLister resolves the pool of accounts eligible for rotation.
type AccountLister interface {
	ListEnabledIDs(ctx context.Context) ([]int64, error)
}

// DialogsStore registers the dialog a successful join produces.
type DialogsStore interface {
	Upsert(ctx context.Context, d *models.Dialog) error
}

// SessionProvider resolves a running session by account ID.
type SessionProvider interface {
	Get(accountID int64) (*telegram.Session, bool)
}

// AccountPolicy selects how Join picks an account.
type AccountPolicy struct {
	AccountID *int64 // specific account, or nil for rotation
}

// PostJoinPolicy controls what happens to the resulting dialog.
type PostJoinPolicy struct {
	Monitor       bool
	Backfill      bool
	ScrapeMembers bool
	DownloadMedia bool
}

// RateLimit is returned by Join when the rotation policy finds no account
// under the daily cap.
type RateLimit struct {
	RetryAfter time.Duration
}

func (e *RateLimit) Error() string {
	return fmt.Sprintf("invite: no account available, retry after %s", e.RetryAfter)
}

// Resolver resolves and joins invite links.
type Resolver struct {
	invites  InviteStore
	accounts AccountLister
	dialogs  DialogsStore
	sessions SessionProvider
	registry *registry.Registry
	log      *logger.Logger

	maxPerDay int
	delay     time.Duration

	preview PreviewFallback
}

// New builds a Resolver from cfg's AUTOJOIN_* knobs.
func New(invites InviteStore, accounts AccountLister, dialogs DialogsStore, sessions SessionProvider, reg *registry.Registry, cfg *config.Config) *Resolver {
	return &Resolver{
		invites:   invites,
		accounts:  accounts,
		dialogs:   dialogs,
		sessions:  sessions,
		registry:  reg,
		log:       logger.Get(),
		maxPerDay: cfg.AutojoinMaxPerDay,
		delay:     cfg.AutojoinDelay,
	}
}

// AutojoinConfig is the tunable rotation policy for Join.
type AutojoinConfig struct {
	MaxPerDay int
	Delay     time.Duration
}

// AutojoinConfig returns the resolver's current rotation policy.
func (r *Resolver) AutojoinConfig() AutojoinConfig {
	return AutojoinConfig{MaxPerDay: r.maxPerDay, Delay: r.delay}
}

// SetAutojoinConfig updates the resolver's rotation policy.
func (r *Resolver) SetAutojoinConfig(cfg AutojoinConfig) {
	r.maxPerDay = cfg.MaxPerDay
	r.delay = cfg.Delay
}

// SetPreviewFallback wires a browser-based previewer Resolve falls back to
// when no account is available or the session call fails. Left nil, a
// failed session resolution simply marks the invite failed as before.
func (r *Resolver) SetPreviewFallback(p PreviewFallback) {
	r.preview = p
}

// Hash extracts the invite_hash from a t.me link, handling both the
// legacy /joinchat/ form and the modern /+ form.
func Hash(link string) (string, bool) {
	link = strings.TrimSpace(link)
	for _, prefix := range []string{"https://t.me/joinchat/", "http://t.me/joinchat/", "t.me/joinchat/"} {
		if strings.HasPrefix(link, prefix) {
			return strings.TrimPrefix(link, prefix), true
		}
	}
	for _, prefix := range []string{"https://t.me/+", "http://t.me/+", "t.me/+"} {
		if strings.HasPrefix(link, prefix) {
			return strings.TrimPrefix(link, prefix), true
		}
	}
	return "", false
}

// Submit registers a link for resolution, returning the existing invite
// untouched if it was already submitted.
func (r *Resolver) Submit(ctx context.Context, link string, source models.Invite) (*models.Invite, error) {
	return r.invites.Create(ctx, link, source)
}

// Resolve normalizes the invite's link and populates its preview fields via
// messages.checkChatInvite, using the session of the first enabled account
// (other accounts are not tried). Does not join.
func (r *Resolver) Resolve(ctx context.Context, inviteID int64) error {
	inv, err := r.invites.Get(ctx, inviteID)
	if err != nil {
		return fmt.Errorf("invite: load %d: %w", inviteID, err)
	}
	if inv == nil {
		return fmt.Errorf("invite: %d not found", inviteID)
	}

	hash, ok := Hash(inv.Link)
	if !ok {
		return r.invites.MarkFailed(ctx, inviteID, models.InviteStatusInvalid)
	}

	ids, err := r.accounts.ListEnabledIDs(ctx)
	if err == nil && len(ids) > 0 {
		if sess, ok := r.sessions.Get(ids[0]); ok {
			v, callErr := sess.Call(ctx, telegram.PriorityInteractive, func(ctx context.Context) (interface{}, error) {
				return sess.API().MessagesCheckChatInvite(ctx, hash)
			})
			if callErr == nil {
				switch inviteResult := v.(type) {
				case *tg.ChatInviteAlready:
					return r.invites.UpdateResolved(ctx, inviteID, hash, models.InviteStatusAlreadyJoined, nil, nil, nil, false)
				case *tg.ChatInvite:
					title := inviteResult.Title
					about := inviteResult.About
					count := inviteResult.ParticipantsCount
					return r.invites.UpdateResolved(ctx, inviteID, hash, models.InviteStatusPending, &title, &about, &count, inviteResult.Channel)
				default:
					return r.invites.MarkFailed(ctx, inviteID, models.InviteStatusInvalid)
				}
			}
			r.log.Warn().Err(callErr).Int64("invite_id", inviteID).Msg("invite: session resolve failed, trying browser fallback")
		}
	}

	if r.preview == nil {
		return r.invites.MarkFailed(ctx, inviteID, models.InviteStatusFailed)
	}

	title, about, count, isChannel, err := r.preview.Preview(ctx, hash)
	if err != nil {
		r.log.Warn().Err(err).Int64("invite_id", inviteID).Msg("invite: browser preview fallback failed")
		return r.invites.MarkFailed(ctx, inviteID, models.InviteStatusFailed)
	}
	return r.invites.UpdateResolved(ctx, inviteID, hash, models.InviteStatusPending, &title, &about, &count, isChannel)
}

// Join joins invite under the given account/post-join policy. The rotation
// branch picks the enabled account with the oldest last join that is still
// under the daily cap; ties are broken by account ID order.
func (r *Resolver) Join(ctx context.Context, inviteID int64, acctPolicy AccountPolicy, post PostJoinPolicy) error {
	inv, err := r.invites.Get(ctx, inviteID)
	if err != nil {
		return fmt.Errorf("invite: load %d: %w", inviteID, err)
	}
	if inv == nil {
		return fmt.Errorf("invite: %d not found", inviteID)
	}
	if inv.Status == models.InviteStatusAlreadyJoined {
		return nil
	}

	accountID, err := r.chooseAccount(ctx, acctPolicy)
	if err != nil {
		return err
	}

	sess, ok := r.sessions.Get(accountID)
	if !ok {
		return fmt.Errorf("invite: account %d has no running session", accountID)
	}

	hash := inv.InviteHash
	if hash == "" {
		var hok bool
		hash, hok = Hash(inv.Link)
		if !hok {
			_ = r.invites.MarkFailed(ctx, inviteID, models.InviteStatusInvalid)
			return fmt.Errorf("invite: %d has no resolvable hash", inviteID)
		}
	}

	v, err := sess.Call(ctx, telegram.PriorityInteractive, func(ctx context.Context) (interface{}, error) {
		return sess.API().MessagesImportChatInvite(ctx, hash)
	})
	if err != nil {
		_ = r.invites.MarkFailed(ctx, inviteID, models.InviteStatusFailed)
		return fmt.Errorf("invite: join %d: %w", inviteID, err)
	}

	d, err := dialogFromUpdates(v)
	if err != nil {
		_ = r.invites.MarkFailed(ctx, inviteID, models.InviteStatusFailed)
		return err
	}

	if err := r.dialogs.Upsert(ctx, d); err != nil {
		return fmt.Errorf("invite: upsert dialog for invite %d: %w", inviteID, err)
	}
	if err := r.registry.Assign(ctx, d.ID, &accountID); err != nil {
		return fmt.Errorf("invite: assign dialog %d: %w", d.ID, err)
	}
	if err := r.registry.SetOptions(ctx, d.ID, post.DownloadMedia, false, post.Backfill); err != nil {
		return fmt.Errorf("invite: set options for dialog %d: %w", d.ID, err)
	}
	if post.Backfill {
		if err := r.registry.StartBackfill(ctx, d.ID); err != nil {
			r.log.Error().Err(err).Int64("dialog_id", d.ID).Msg("invite: start backfill after join failed")
		}
	}

	return r.invites.MarkJoined(ctx, inviteID, accountID, models.InviteStatusJoined)
}

func (r *Resolver) chooseAccount(ctx context.Context, policy AccountPolicy) (int64, error) {
	if policy.AccountID != nil {
		return *policy.AccountID, nil
	}

	ids, err := r.accounts.ListEnabledIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("invite: list enabled accounts: %w", err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("invite: no enabled accounts")
	}

	now := time.Now()
	cutoff := now.Add(-24 * time.Hour)
	var best int64
	var bestLast time.Time
	found := false
	for _, id := range ids {
		count, err := r.invites.JoinCountSince(ctx, id, cutoff)
		if err != nil {
			return 0, err
		}
		if count >= r.maxPerDay {
			continue
		}
		last, err := r.invites.LastJoinAt(ctx, id)
		if err != nil {
			return 0, err
		}
		lastVal := time.Time{}
		if last != nil {
			lastVal = *last
			if r.delay > 0 && now.Sub(lastVal) < r.delay {
				// Still inside this account's own inter-join delay, even
				// though it's under the daily cap — the two limits are
				// independent.
				continue
			}
		}
		if !found || lastVal.Before(bestLast) {
			best, bestLast, found = id, lastVal, true
		}
	}
	if !found {
		return 0, &RateLimit{RetryAfter: r.delay}
	}
	return best, nil
}

func dialogFromUpdates(v interface{}) (*models.Dialog, error) {
	updates, ok := v.(interface {
		GetChats() []tg.ChatClass
	})
	if !ok {
		return nil, fmt.Errorf("invite: unrecognized import response")
	}
	chats := updates.GetChats()
	if len(chats) == 0 {
		return nil, fmt.Errorf("invite: import response carried no chat")
	}

	switch c := chats[0].(type) {
	case *tg.Channel:
		d := &models.Dialog{UpstreamID: c.ID, AccessHash: c.AccessHash, Title: c.Title, Type: models.DialogTypeSupergroup}
		if c.Broadcast {
			d.Type = models.DialogTypeChannel
		}
		if c.Username != "" {
			u := c.Username
			d.Username = &u
		}
		return d, nil
	case *tg.Chat:
		return &models.Dialog{UpstreamID: c.ID, Title: c.Title, Type: models.DialogTypeGroup}, nil
	default:
		return nil, fmt.Errorf("invite: unsupported chat type %T", c)
	}
}
