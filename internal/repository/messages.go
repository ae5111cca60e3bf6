package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// MessagesRepository handles the messages table.
type MessagesRepository struct {
	pool *pgxpool.Pool // Begin for InsertBatch, and the lookups that always read the pool
	db   DBTX
}

// NewMessagesRepository creates a new messages repository.
func NewMessagesRepository(pool *pgxpool.Pool) *MessagesRepository {
	return &MessagesRepository{pool: pool, db: pool}
}

// WithTx returns a repository bound to tx instead of the pool, so its
// statements join an existing transaction rather than auto-committing.
func (r *MessagesRepository) WithTx(tx pgx.Tx) *MessagesRepository {
	return &MessagesRepository{pool: r.pool, db: tx}
}

// Upsert inserts a message keyed by (dialog_id, upstream_message_id). A
// conflict is a late or redelivered event; the original is left intact and
// its ID is returned so callers can still attach media/detections to it.
//
// Returns (id, inserted).
func (r *MessagesRepository) Upsert(ctx context.Context, m *models.Message) (int64, bool, error) {
	var id int64
	var inserted bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id, views, forwards, reactions, media_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dialog_id, upstream_message_id) DO UPDATE SET dialog_id = EXCLUDED.dialog_id
		RETURNING id, (xmax = 0) AS inserted
	`, m.DialogID, m.UpstreamMessageID, m.SenderID, m.Date, m.Text, m.ReplyTo, m.GroupedID, m.Views, m.Forwards, m.Reactions, m.MediaType,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("upsert message: %w", err)
	}
	return id, inserted, nil
}

// InsertBatch persists a page of backfilled messages in one transaction,
// skipping any that already exist. Used by the Backfill Coordinator, which
// commits a whole page or none of it.
func (r *MessagesRepository) InsertBatch(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback(ctx)

	const maxBatch = 500
	for start := 0; start < len(messages); start += maxBatch {
		end := start + maxBatch
		if end > len(messages) {
			end = len(messages)
		}
		for _, m := range messages[start:end] {
			_, err := tx.Exec(ctx, `
				INSERT INTO messages (dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id, views, forwards, reactions, media_type)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (dialog_id, upstream_message_id) DO NOTHING
			`, m.DialogID, m.UpstreamMessageID, m.SenderID, m.Date, m.Text, m.ReplyTo, m.GroupedID, m.Views, m.Forwards, m.Reactions, m.MediaType)
			if err != nil {
				return fmt.Errorf("insert message %d: %w", m.UpstreamMessageID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// GetByDialogAndUpstreamID looks up a message by its natural key.
func (r *MessagesRepository) GetByDialogAndUpstreamID(ctx context.Context, dialogID, upstreamMessageID int64) (*models.Message, error) {
	var m models.Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id, views, forwards, reactions, media_type, created_at
		FROM messages WHERE dialog_id = $1 AND upstream_message_id = $2
	`, dialogID, upstreamMessageID).Scan(
		&m.ID, &m.DialogID, &m.UpstreamMessageID, &m.SenderID, &m.Date, &m.Text, &m.ReplyTo, &m.GroupedID,
		&m.Views, &m.Forwards, &m.Reactions, &m.MediaType, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// GetByID looks up a message by its surrogate key, used by the media
// pipeline to resolve the dialog and upstream ID a queued file belongs to.
func (r *MessagesRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	var m models.Message
	err := r.pool.QueryRow(ctx, `
		SELECT id, dialog_id, upstream_message_id, sender_id, date, text, reply_to, grouped_id, views, forwards, reactions, media_type, created_at
		FROM messages WHERE id = $1
	`, id).Scan(
		&m.ID, &m.DialogID, &m.UpstreamMessageID, &m.SenderID, &m.Date, &m.Text, &m.ReplyTo, &m.GroupedID,
		&m.Views, &m.Forwards, &m.Reactions, &m.MediaType, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return &m, nil
}

// MinUpstreamID returns the lowest upstream_message_id persisted so far for
// dialogID, used to seed the backfill cursor on first run. Returns 0 if the
// dialog has no messages yet.
func (r *MessagesRepository) MinUpstreamID(ctx context.Context, dialogID int64) (int64, error) {
	var min *int64
	err := r.pool.QueryRow(ctx, `SELECT MIN(upstream_message_id) FROM messages WHERE dialog_id = $1`, dialogID).Scan(&min)
	if err != nil {
		return 0, fmt.Errorf("min upstream id for dialog %d: %w", dialogID, err)
	}
	if min == nil {
		return 0, nil
	}
	return *min, nil
}
