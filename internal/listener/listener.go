// Package listener implements the Live Listener: the per-session handler
// that turns a raw gotd update into a persisted Message, its Detections,
// and the domain events fanned out to subscribers.
package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/eventbus"
	"github.com/blockedby/positions-os/internal/extractor"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
)

// DialogLookup resolves an incoming update's peer to a monitored dialog.
type DialogLookup interface {
	GetByUpstreamID(ctx context.Context, upstreamID int64) (*models.Dialog, error)
}

// UserUpserter satisfies a message's sender FK before the message itself
// is inserted.
type UserUpserter interface {
	UpsertStub(ctx context.Context, upstreamID, accessHash int64) (int64, error)
}

// MessageWriter persists the normalized message.
type MessageWriter interface {
	Upsert(ctx context.Context, m *models.Message) (id int64, inserted bool, err error)
}

// MediaWriter queues a newly observed attachment for download.
type MediaWriter interface {
	InsertQueued(ctx context.Context, messageID int64, fileType models.MediaFileType, priority int) (int64, error)
}

// DetectionWriter persists extractor hits for a message.
type DetectionWriter interface {
	InsertDetections(ctx context.Context, detections []models.Detection) error
}

// MediaEnqueuer hands a queued media file off to the download pipeline.
type MediaEnqueuer interface {
	Enqueue(mediaID int64, priority int)
}

// TxRunner executes fn with writers scoped to a single transaction, so the
// message insert, its at-most-one media insert, and its detection inserts
// commit together or not at all.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, messages MessageWriter, media MediaWriter, detections DetectionWriter) error) error
}

// Listener is the Live Listener for one session. Register its Handle
// method via Session.OnNewMessage.
type Listener struct {
	dialogs   DialogLookup
	users     UserUpserter
	tx        TxRunner
	extractor *extractor.Extractor
	bus       *eventbus.Bus
	pipeline  MediaEnqueuer
	log       *logger.Logger
}

// New builds a Listener. pipeline may be nil; in that case media rows are
// still written at processing_status=queued but nothing is enqueued, and the
// media retry sweep does not pick them up (it selects only failed rows).
func New(dialogs DialogLookup, users UserUpserter, tx TxRunner, ext *extractor.Extractor, bus *eventbus.Bus, pipeline MediaEnqueuer) *Listener {
	return &Listener{
		dialogs:   dialogs,
		users:     users,
		tx:        tx,
		extractor: ext,
		bus:       bus,
		pipeline:  pipeline,
		log:       logger.Get(),
	}
}

// Handle matches telegram.UpdateHandler. It normalizes the update, writes
// the message and its detections, then publishes the resulting events.
// Returns nil on any update gotd routes here that this engine doesn't
// model (e.g. non-tg.Message payloads) rather than treating it as an error.
func (l *Listener) Handle(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	tm, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}

	peerUpstreamID, ok := chatUpstreamID(tm.PeerID)
	if !ok {
		return nil
	}

	dialog, err := l.dialogs.GetByUpstreamID(ctx, peerUpstreamID)
	if err != nil {
		return fmt.Errorf("listener: resolve dialog %d: %w", peerUpstreamID, err)
	}
	if dialog == nil || !dialog.IsMonitored() {
		return nil
	}

	var senderID *int64
	if fromUpstream, ok := userUpstreamID(tm.FromID); ok {
		var accessHash int64
		if u, ok := e.Users[fromUpstream]; ok {
			accessHash = u.AccessHash
		}
		id, err := l.users.UpsertStub(ctx, fromUpstream, accessHash)
		if err != nil {
			return fmt.Errorf("listener: upsert sender stub: %w", err)
		}
		senderID = &id
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

	fileType, hasMedia := mediaFileType(tm.Media)
	mediaType := ""
	if hasMedia {
		mediaType = string(fileType)
	}

	msg := &models.Message{
		DialogID:          dialog.ID,
		UpstreamMessageID: int64(tm.ID),
		SenderID:          senderID,
		Date:              time.Unix(int64(tm.Date), 0),
		Text:              tm.Message,
		ReplyTo:           replyTo,
		GroupedID:         groupedID,
		Views:             tm.Views,
		Forwards:          tm.Forwards,
		MediaType:         mediaType,
	}

	var detections []models.Detection
	if msg.Text != "" {
		for _, match := range l.extractor.Extract(msg.Text) {
			detections = append(detections, models.Detection{
				DetectorID:      match.DetectorID,
				DetectionType:   match.Type,
				MatchedText:     match.MatchedText,
				NormalizedValue: match.NormalizedValue,
				ContextBefore:   match.ContextBefore,
				ContextAfter:    match.ContextAfter,
			})
		}
	}

	var inserted bool
	var mediaID int64
	err = l.tx.WithinTx(ctx, func(ctx context.Context, messages MessageWriter, media MediaWriter, detectionsW DetectionWriter) error {
		id, ins, err := messages.Upsert(ctx, msg)
		if err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
		inserted = ins
		if !inserted {
			// late/redelivered event for an already-seen message, discarded
			// idempotently by the unique key.
			return nil
		}
		msg.ID = id

		if hasMedia && dialog.DownloadMedia {
			mediaID, err = media.InsertQueued(ctx, id, fileType, mediaPriority(dialog))
			if err != nil {
				return fmt.Errorf("insert media: %w", err)
			}
		}

		for i := range detections {
			detections[i].MessageID = id
		}
		if len(detections) > 0 {
			if err := detectionsW.InsertDetections(ctx, detections); err != nil {
				return fmt.Errorf("insert detections: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	if !inserted {
		return nil
	}

	l.bus.Publish(eventbus.Event{Kind: eventbus.KindNewMessage, Payload: msg})
	for i := range detections {
		l.bus.Publish(eventbus.Event{Kind: eventbus.KindNewDetection, Payload: &detections[i]})
	}

	if hasMedia && dialog.DownloadMedia && l.pipeline != nil {
		l.pipeline.Enqueue(mediaID, mediaPriority(dialog))
	}

	return nil
}

func mediaPriority(d *models.Dialog) int {
	if d.OCREnabled {
		return 1
	}
	return 0
}

// chatUpstreamID extracts the peer's Telegram chat/channel ID a message
// belongs to, per tg.Message.PeerID.
func chatUpstreamID(p tg.PeerClass) (int64, bool) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, true
	case *tg.PeerChat:
		return v.ChatID, true
	case *tg.PeerChannel:
		return v.ChannelID, true
	default:
		return 0, false
	}
}

// userUpstreamID extracts the sender's Telegram user ID, per
// tg.Message.FromID. Channel posts and anonymous admins carry no user
// FromID and are left senderless.
func userUpstreamID(p tg.PeerClass) (int64, bool) {
	if u, ok := p.(*tg.PeerUser); ok {
		return u.UserID, true
	}
	return 0, false
}

// mediaFileType classifies tg.Message.Media into this engine's file type
// taxonomy. Unsupported or absent media reports ok=false.
func mediaFileType(m tg.MessageMediaClass) (models.MediaFileType, bool) {
	switch v := m.(type) {
	case *tg.MessageMediaPhoto:
		return models.MediaTypePhoto, true
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return "", false
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeSticker:
				return models.MediaTypeSticker, true
			case *tg.DocumentAttributeAnimated:
				return models.MediaTypeGIF, true
			case *tg.DocumentAttributeVideo:
				if a.RoundMessage {
					return models.MediaTypeVideoNote, true
				}
				return models.MediaTypeVideo, true
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					return models.MediaTypeVoice, true
				}
				return models.MediaTypeAudio, true
			}
		}
		return models.MediaTypeDocument, true
	default:
		return "", false
	}
}
