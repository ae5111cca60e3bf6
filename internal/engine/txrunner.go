package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/listener"
	"github.com/blockedby/positions-os/internal/repository"
)

// listenerTx adapts the messages/media/detections repositories to
// listener.TxRunner, giving the Live Listener a single pgx transaction to
// write a message, its at-most-one media row, and its detections into.
type listenerTx struct {
	pool       *pgxpool.Pool
	messages   *repository.MessagesRepository
	media      *repository.MediaRepository
	detections *repository.DetectionsRepository
}

func newListenerTx(pool *pgxpool.Pool, messages *repository.MessagesRepository, media *repository.MediaRepository, detections *repository.DetectionsRepository) *listenerTx {
	return &listenerTx{pool: pool, messages: messages, media: media, detections: detections}
}

// WithinTx begins a transaction, runs fn against repositories bound to it,
// and commits only if fn succeeds. Any error, including one returned after
// a partial write, rolls the whole thing back.
func (t *listenerTx) WithinTx(ctx context.Context, fn func(ctx context.Context, messages listener.MessageWriter, media listener.MediaWriter, detections listener.DetectionWriter) error) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("engine: begin listener tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, t.messages.WithTx(tx), t.media.WithTx(tx), t.detections.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
