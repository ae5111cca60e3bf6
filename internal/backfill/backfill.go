// Package backfill implements the Backfill Coordinator: resumable,
// per-dialog historical message pagination.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/eventbus"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/telegram"
)

// DialogStore is the persistence surface the coordinator needs for dialog
// state and cursor tracking.
type DialogStore interface {
	Get(ctx context.Context, dialogID int64) (*models.Dialog, error)
	UpdateCursor(ctx context.Context, dialogID, backfillFrontier, lastMessageIDSeen int64) error
	RecordError(ctx context.Context, dialogID int64, message string) error
}

// MessageStore is the persistence surface for writing backfilled pages.
type MessageStore interface {
	InsertBatch(ctx context.Context, messages []models.Message) error
	MinUpstreamID(ctx context.Context, dialogID int64) (int64, error)
}

// UserUpserter resolves a Telegram user ID into the internal users.id
// surrogate a backfilled message's sender_id must point at — the same
// resolution the live listener does through UpsertStub before a message is
// ever written, so sender_id means the same thing regardless of whether the
// message arrived live or via backfill.
type UserUpserter interface {
	UpsertStub(ctx context.Context, upstreamID, accessHash int64) (int64, error)
}

// SessionProvider resolves the telegram.Session that owns an account, so
// the coordinator can route history calls through its priority queue.
type SessionProvider interface {
	Get(accountID int64) (*telegram.Session, bool)
}

type dialogRun struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	stop   bool
}

// Coordinator runs one backfill loop per started dialog; it implements
// registry.BackfillStarter. It does not read BackfillConcurrencyPerSession:
// loops for several dialogs owned by the same session run at the same time,
// with no per-session cap on how many.
type Coordinator struct {
	dialogs  DialogStore
	messages MessageStore
	sessions SessionProvider
	users    UserUpserter
	bus      *eventbus.Bus
	log      *logger.Logger

	pageSize int

	mu      sync.Mutex
	running map[int64]*dialogRun
}

// New builds a Coordinator. Of cfg's BACKFILL_* knobs it reads only
// BackfillPageSize; a value outside 1..100 becomes 100.
func New(dialogs DialogStore, messages MessageStore, sessions SessionProvider, users UserUpserter, bus *eventbus.Bus, cfg *config.Config) *Coordinator {
	pageSize := cfg.BackfillPageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Coordinator{
		dialogs:  dialogs,
		messages: messages,
		sessions: sessions,
		users:    users,
		bus:      bus,
		log:      logger.Get(),
		pageSize: pageSize,
		running:  make(map[int64]*dialogRun),
	}
}

// Start validates preconditions synchronously and launches the pagination
// loop in the background, returning once it has actually begun (or failed
// to begin). The registry already guarantees at most one concurrent Start
// per dialog.
func (c *Coordinator) Start(ctx context.Context, dialogID int64) error {
	dialog, err := c.dialogs.Get(ctx, dialogID)
	if err != nil {
		return fmt.Errorf("backfill: load dialog %d: %w", dialogID, err)
	}
	if dialog == nil {
		return fmt.Errorf("backfill: dialog %d not found", dialogID)
	}
	if dialog.AssignedAccount == nil {
		return fmt.Errorf("backfill: dialog %d has no assigned account", dialogID)
	}
	if !dialog.BackfillEnabled {
		return fmt.Errorf("backfill: dialog %d does not have backfill enabled", dialogID)
	}

	sess, ok := c.sessions.Get(*dialog.AssignedAccount)
	if !ok {
		return fmt.Errorf("backfill: account %d has no active session", *dialog.AssignedAccount)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &dialogRun{cancel: cancel}

	c.mu.Lock()
	c.running[dialogID] = run
	c.mu.Unlock()

	go c.loop(runCtx, dialog, sess, run)
	return nil
}

// Stop requests the named dialog's loop to terminate after its current page.
func (c *Coordinator) Stop(dialogID int64) {
	c.mu.Lock()
	run, ok := c.running[dialogID]
	c.mu.Unlock()
	if !ok {
		return
	}
	run.mu.Lock()
	run.stop = true
	run.mu.Unlock()
}

func (c *Coordinator) loop(ctx context.Context, dialog *models.Dialog, sess *telegram.Session, run *dialogRun) {
	defer func() {
		c.mu.Lock()
		delete(c.running, dialog.ID)
		c.mu.Unlock()
	}()

	cursor := dialog.BackfillFrontier
	if cursor == 0 {
		min, err := c.messages.MinUpstreamID(ctx, dialog.ID)
		if err != nil {
			c.log.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("backfill: seed cursor failed")
			return
		}
		cursor = min
	}

	total := 0
	for {
		run.mu.Lock()
		stopRequested := run.stop
		run.mu.Unlock()
		if stopRequested {
			c.publishProgress(dialog.ID, cursor, total, true)
			return
		}

		page, err := c.fetchPage(ctx, sess, dialog, cursor)
		if err != nil {
			c.log.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("backfill: fetch page failed")
			if recErr := c.dialogs.RecordError(ctx, dialog.ID, err.Error()); recErr != nil {
				c.log.Error().Err(recErr).Int64("dialog_id", dialog.ID).Msg("backfill: record error failed")
			}
			return
		}
		if len(page) == 0 {
			c.publishProgress(dialog.ID, cursor, total, true)
			return
		}

		if err := c.messages.InsertBatch(ctx, page); err != nil {
			c.log.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("backfill: insert batch failed")
			return
		}

		lowest := page[0].UpstreamMessageID
		for _, m := range page[1:] {
			if m.UpstreamMessageID < lowest {
				lowest = m.UpstreamMessageID
			}
		}

		if err := c.dialogs.UpdateCursor(ctx, dialog.ID, lowest, 0); err != nil {
			c.log.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("backfill: update cursor failed")
			return
		}

		total += len(page)
		cursor = lowest
		c.publishProgress(dialog.ID, cursor, total, false)

		if len(page) < c.pageSize {
			c.publishProgress(dialog.ID, cursor, total, true)
			return
		}
	}
}

func (c *Coordinator) publishProgress(dialogID, frontier int64, messagesDone int, done bool) {
	c.bus.Publish(eventbus.Event{Kind: eventbus.KindBackfillProgress, Payload: eventbus.BackfillProgress{
		DialogID:     dialogID,
		Frontier:     frontier,
		MessagesDone: messagesDone,
		Done:         done,
	}})
}

func (c *Coordinator) fetchPage(ctx context.Context, sess *telegram.Session, dialog *models.Dialog, cursor int64) ([]models.Message, error) {
	peer := inputPeer(dialog)
	if peer == nil {
		return nil, fmt.Errorf("backfill: unsupported dialog type %q", dialog.Type)
	}

	v, err := sess.Call(ctx, telegram.PriorityBackfill, func(ctx context.Context) (interface{}, error) {
		return sess.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: int(cursor),
			Limit:    c.pageSize,
		})
	})
	if err != nil {
		return nil, err
	}

	var raw []tg.MessageClass
	var users []tg.UserClass
	switch h := v.(type) {
	case *tg.MessagesChannelMessages:
		raw, users = h.Messages, h.Users
	case *tg.MessagesMessages:
		raw, users = h.Messages, h.Users
	case *tg.MessagesMessagesSlice:
		raw, users = h.Messages, h.Users
	default:
		return nil, errors.New("backfill: unexpected MessagesGetHistory response type")
	}

	accessHash := make(map[int64]int64, len(users))
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			accessHash[u.ID] = u.AccessHash
		}
	}

	out := make([]models.Message, 0, len(raw))
	for _, msg := range raw {
		m, senderUpstreamID, hasSender, ok := normalizeMessage(dialog.ID, msg)
		if !ok {
			continue
		}
		if hasSender {
			id, err := c.users.UpsertStub(ctx, senderUpstreamID, accessHash[senderUpstreamID])
			if err != nil {
				return nil, fmt.Errorf("backfill: upsert sender stub: %w", err)
			}
			m.SenderID = &id
		}
		out = append(out, m)
	}
	return out, nil
}

func inputPeer(d *models.Dialog) tg.InputPeerClass {
	switch d.Type {
	case models.DialogTypeChannel, models.DialogTypeSupergroup:
		return &tg.InputPeerChannel{ChannelID: d.UpstreamID, AccessHash: d.AccessHash}
	case models.DialogTypeGroup:
		return &tg.InputPeerChat{ChatID: d.UpstreamID}
	case models.DialogTypeUser:
		return &tg.InputPeerUser{UserID: d.UpstreamID, AccessHash: d.AccessHash}
	default:
		return nil
	}
}

// normalizeMessage mirrors the live listener's field extraction for a
// backfilled tg.Message, skipping non-Message payloads (service messages,
// deleted-message placeholders). The sender is reported as its raw
// Telegram user ID rather than resolved into the Message itself — the
// caller still has to run it through UserUpserter.UpsertStub, the same as
// the live listener does, before sender_id means anything as a users.id FK.
func normalizeMessage(dialogID int64, msg tg.MessageClass) (m models.Message, senderUpstreamID int64, hasSender bool, ok bool) {
	tm, ok := msg.(*tg.Message)
	if !ok {
		return models.Message{}, 0, false, false
	}

	if u, ok := tm.FromID.(*tg.PeerUser); ok {
		senderUpstreamID, hasSender = u.UserID, true
	}

	var replyTo *int64
	if tm.ReplyTo != nil {
		if rh, ok := tm.ReplyTo.(*tg.MessageReplyHeader); ok && !rh.ForumTopic {
			id := int64(rh.ReplyToMsgID)
			replyTo = &id
		}
	}

	var groupedID *int64
	if tm.GroupedID != 0 {
		g := tm.GroupedID
		groupedID = &g
	}

	return models.Message{
		DialogID:          dialogID,
		UpstreamMessageID: int64(tm.ID),
		Date:              time.Unix(int64(tm.Date), 0),
		Text:              tm.Message,
		ReplyTo:           replyTo,
		GroupedID:         groupedID,
		Views:             tm.Views,
		Forwards:          tm.Forwards,
	}, senderUpstreamID, hasSender, true
}
