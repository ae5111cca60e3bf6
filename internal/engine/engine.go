// Package engine wires together every component of the ingestion daemon:
// persistence, the telegram session pool, the dialog registry, the live
// listener, the backfill coordinator, the media pipeline, the enrichment
// schedulers, the event bus, and the bridges out to WebSocket clients and
// NATS.
package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/blockedby/positions-os/internal/backfill"
	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/enrichment"
	"github.com/blockedby/positions-os/internal/eventbus"
	"github.com/blockedby/positions-os/internal/extractor"
	"github.com/blockedby/positions-os/internal/invite"
	"github.com/blockedby/positions-os/internal/listener"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/media"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/publisher"
	"github.com/blockedby/positions-os/internal/registry"
	"github.com/blockedby/positions-os/internal/repository"
	"github.com/blockedby/positions-os/internal/telegram"
	"github.com/blockedby/positions-os/internal/web"
)

// Engine owns every long-running component and its dependency wiring.
type Engine struct {
	cfg *config.Config
	log *logger.Logger

	DB   *pgxpool.Pool
	Bus  *eventbus.Bus
	Hub  *web.Hub
	NATS *nats.Conn

	Accounts   *repository.AccountsRepository
	Dialogs    *repository.DialogsRepository
	Messages   *repository.MessagesRepository
	Media      *repository.MediaRepository
	Users      *repository.UsersRepository
	Detections *repository.DetectionsRepository
	Photos     *repository.ProfilePhotosRepository
	Stories    *repository.StoriesRepository
	Invites    *repository.InvitesRepository

	Sessions   *telegram.AccountManager
	Registry   *registry.Registry
	Backfill   *backfill.Coordinator
	Pipeline   *media.Pipeline
	Retry      *media.RetryService
	Enrichment *enrichment.Scheduler
	Invite     *invite.Resolver
	Extractor  *extractor.Extractor
	Publisher  *publisher.NATSPublisher
}

// New builds an Engine with every component wired, but starts nothing.
func New(cfg *config.Config, db *pgxpool.Pool, natsConn *nats.Conn) *Engine {
	e := &Engine{
		cfg: cfg,
		log: logger.Get(),
		DB:  db,
		Bus: eventbus.New(cfg.EventBusBufferSize),
		Hub: web.NewHub(),
	}
	e.NATS = natsConn

	e.Accounts = repository.NewAccountsRepository(db)
	e.Dialogs = repository.NewDialogsRepository(db)
	e.Messages = repository.NewMessagesRepository(db)
	e.Media = repository.NewMediaRepository(db)
	e.Users = repository.NewUsersRepository(db)
	e.Detections = repository.NewDetectionsRepository(db)
	e.Photos = repository.NewProfilePhotosRepository(db)
	e.Stories = repository.NewStoriesRepository(db)
	e.Invites = repository.NewInvitesRepository(db)

	e.Sessions = telegram.NewAccountManager(cfg, e.Accounts)
	e.Backfill = backfill.New(e.Dialogs, e.Messages, e.Sessions, e.Users, e.Bus, cfg)
	e.Registry = registry.New(e.Dialogs, e.Backfill)
	e.Pipeline = media.New(e.Media, e.Messages, e.Dialogs, e.Sessions, cfg)
	e.Retry = media.NewRetryService(e.Media, e.Pipeline, cfg)
	e.Enrichment = enrichment.New(e.Dialogs, e.Users, e.Photos, e.Stories, e.Sessions, cfg)
	e.Invite = invite.New(e.Invites, e.Accounts, e.Dialogs, e.Sessions, e.Registry, cfg)
	if cfg.InvitePreviewChromeEnabled {
		e.Invite.SetPreviewFallback(invite.NewChromePreviewer(cfg.InvitePreviewChromeTimeout))
	}

	e.Extractor = extractor.New(cfg)

	tx := newListenerTx(e.DB, e.Messages, e.Media, e.Detections)
	lst := listener.New(e.Dialogs, e.Users, tx, e.Extractor, e.Bus, e.Pipeline)
	e.Sessions.OnSessionStarted(func(sess *telegram.Session) { sess.OnNewMessage(lst.Handle) })

	if natsConn != nil {
		e.Publisher = publisher.NewNATSPublisher(natsConn)
	}

	return e
}

// Run starts the persistent background components (media pipeline, retry
// sweeper, enrichment schedulers, session recovery sweep, hub fan-out, NATS
// bridge) and blocks until ctx is canceled. Session startup happens in
// StartAccounts, called separately once accounts are loaded; the live
// listener handler is wired in New via OnSessionStarted so it covers both
// that initial startup and any later reconnection by the recovery sweep.
func (e *Engine) Run(ctx context.Context) {
	go e.Hub.Run()
	go e.bridgeToHub(ctx)
	go e.Pipeline.Start(ctx)
	go e.Retry.Run(ctx)
	go e.Enrichment.Run(ctx)
	go e.Sessions.RecoverLoop(ctx, e.Accounts, e.cfg.SessionRecoveryInterval, e.cfg.SessionRecoveryMaxBackoff)
	if e.Publisher != nil {
		go e.Publisher.Run(ctx, e.Bus)
	}
	<-ctx.Done()
}

// StartAccounts loads every account from the database and starts a session
// for each usable one. The Live Listener handler is wired onto every
// session (this one and any later reconnected by RecoverLoop) via the
// OnSessionStarted hook registered in New. This also restores each
// account's previously assigned dialogs' in-memory registry state.
func (e *Engine) StartAccounts(ctx context.Context) error {
	ids, err := e.Accounts.ListEnabledIDs(ctx)
	if err != nil {
		return fmt.Errorf("engine: list enabled accounts: %w", err)
	}

	for _, id := range ids {
		acc, err := e.Accounts.GetByID(ctx, id)
		if err != nil || acc == nil {
			continue
		}
		if _, err := e.Sessions.Start(ctx, acc); err != nil {
			e.log.Error().Err(err).Int64("account_id", id).Msg("engine: start session failed")
			continue
		}

		dialogs, err := e.Dialogs.ListByAccount(ctx, id)
		if err != nil {
			e.log.Error().Err(err).Int64("account_id", id).Msg("engine: list dialogs for account failed")
			continue
		}
		for i := range dialogs {
			e.Registry.Load(&dialogs[i])
		}
	}
	return nil
}

// Stop tears down every running session.
func (e *Engine) Stop() {
	e.Sessions.StopAll()
}

// bridgeToHub relays every event bus message to the WebSocket hub as its
// pre-encoded WSEvent wire form.
func (e *Engine) bridgeToHub(ctx context.Context) {
	sub := e.Bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if msg := encodeForHub(ev); msg != nil {
				e.Hub.Broadcast(msg)
			}
		}
	}
}

func encodeForHub(ev eventbus.Event) []byte {
	switch ev.Kind {
	case eventbus.KindNewMessage:
		m, ok := ev.Payload.(*models.Message)
		if !ok {
			return nil
		}
		return web.NewMessageEvent(m.DialogID, m.ID, m.SenderID, m.MediaType != "")
	case eventbus.KindNewDetection:
		d, ok := ev.Payload.(*models.Detection)
		if !ok {
			return nil
		}
		return web.NewDetectionEvent(d.MessageID, string(d.DetectionType), d.MatchedText)
	case eventbus.KindBackfillProgress:
		p, ok := ev.Payload.(eventbus.BackfillProgress)
		if !ok {
			return nil
		}
		return web.BackfillProgressEvent(p.DialogID, p.Frontier, p.MessagesDone, p.Done)
	case eventbus.KindDialogStatus:
		p, ok := ev.Payload.(eventbus.DialogStatusChange)
		if !ok {
			return nil
		}
		return web.DialogStatusEvent(p.DialogID, p.Status)
	case eventbus.KindAccountStatus:
		p, ok := ev.Payload.(eventbus.AccountStatusChange)
		if !ok {
			return nil
		}
		return web.AccountStatusEvent(p.AccountID, p.Status)
	default:
		return nil
	}
}
