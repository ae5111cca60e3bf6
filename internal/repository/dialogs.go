package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// DialogsRepository handles the dialogs table. It implements
// registry.DialogsStore.
type DialogsRepository struct {
	pool *pgxpool.Pool
}

// NewDialogsRepository creates a new dialogs repository.
func NewDialogsRepository(pool *pgxpool.Pool) *DialogsRepository {
	return &DialogsRepository{pool: pool}
}

// Upsert inserts or updates a dialog keyed by upstream_id, as observed from
// ResolveDialog/GetDialogs. Ownership fields are left untouched; only the
// Dialog Registry mutates assigned_account_id and status.
func (r *DialogsRepository) Upsert(ctx context.Context, d *models.Dialog) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO dialogs (upstream_id, access_hash, type, title, username, member_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (upstream_id) DO UPDATE SET
			access_hash = EXCLUDED.access_hash,
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			member_count = EXCLUDED.member_count,
			updated_at = NOW()
		RETURNING id, status, assigned_account_id, created_at, updated_at
	`, d.UpstreamID, d.AccessHash, d.Type, d.Title, d.Username, d.MemberCount,
	).Scan(&d.ID, &d.Status, &d.AssignedAccount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert dialog: %w", err)
	}
	return nil
}

// GetByUpstreamID returns a dialog by its Telegram chat/channel ID, or nil
// if no row has that ID; unmonitored dialogs are returned too. Used by the
// live listener to map an incoming
// update's peer onto a local dialog.
func (r *DialogsRepository) GetByUpstreamID(ctx context.Context, upstreamID int64) (*models.Dialog, error) {
	var d models.Dialog
	err := r.pool.QueryRow(ctx, `
		SELECT id, upstream_id, access_hash, type, title, username, member_count, photo_path,
		       assigned_account_id, status, download_media, ocr_enabled, backfill_enabled, is_monitoring,
		       last_message_id_seen, backfill_frontier, last_member_scrape_at, last_error, created_at, updated_at
		FROM dialogs WHERE upstream_id = $1
	`, upstreamID).Scan(
		&d.ID, &d.UpstreamID, &d.AccessHash, &d.Type, &d.Title, &d.Username, &d.MemberCount, &d.PhotoPath,
		&d.AssignedAccount, &d.Status, &d.DownloadMedia, &d.OCREnabled, &d.BackfillEnabled, &d.IsMonitoring,
		&d.LastMessageIDSeen, &d.BackfillFrontier, &d.LastMemberScrapeAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dialog by upstream id %d: %w", upstreamID, err)
	}
	return &d, nil
}

// Get returns a dialog by internal ID, or nil if not found.
func (r *DialogsRepository) Get(ctx context.Context, dialogID int64) (*models.Dialog, error) {
	var d models.Dialog
	err := r.pool.QueryRow(ctx, `
		SELECT id, upstream_id, access_hash, type, title, username, member_count, photo_path,
		       assigned_account_id, status, download_media, ocr_enabled, backfill_enabled, is_monitoring,
		       last_message_id_seen, backfill_frontier, last_member_scrape_at, last_error, created_at, updated_at
		FROM dialogs WHERE id = $1
	`, dialogID).Scan(
		&d.ID, &d.UpstreamID, &d.AccessHash, &d.Type, &d.Title, &d.Username, &d.MemberCount, &d.PhotoPath,
		&d.AssignedAccount, &d.Status, &d.DownloadMedia, &d.OCREnabled, &d.BackfillEnabled, &d.IsMonitoring,
		&d.LastMessageIDSeen, &d.BackfillFrontier, &d.LastMemberScrapeAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dialog %d: %w", dialogID, err)
	}
	return &d, nil
}

// UpdateAssignment implements registry.DialogsStore.
func (r *DialogsRepository) UpdateAssignment(ctx context.Context, dialogID int64, accountID *int64, status models.DialogStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dialogs SET assigned_account_id = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, dialogID, accountID, status)
	if err != nil {
		return fmt.Errorf("update dialog assignment: %w", err)
	}
	return nil
}

// UpdateOptions implements registry.DialogsStore.
func (r *DialogsRepository) UpdateOptions(ctx context.Context, dialogID int64, downloadMedia, ocrEnabled, backfillEnabled bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dialogs SET download_media = $2, ocr_enabled = $3, backfill_enabled = $4, updated_at = NOW() WHERE id = $1
	`, dialogID, downloadMedia, ocrEnabled, backfillEnabled)
	if err != nil {
		return fmt.Errorf("update dialog options: %w", err)
	}
	return nil
}

// CountAssigned implements registry.DialogsStore.
func (r *DialogsRepository) CountAssigned(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dialogs WHERE assigned_account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dialogs for account %d: %w", accountID, err)
	}
	return n, nil
}

// MessagesCollected implements registry.DialogsStore by delegating to the
// accounts table's running counter.
func (r *DialogsRepository) MessagesCollected(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT messages_collected FROM accounts WHERE id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messages collected for account %d: %w", accountID, err)
	}
	return n, nil
}

// ListEnabledAccountIDs implements registry.DialogsStore.
func (r *DialogsRepository) ListEnabledAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM accounts WHERE status NOT IN ($1, $2) ORDER BY id
	`, models.AccountStatusBanned, models.AccountStatusError)
	if err != nil {
		return nil, fmt.Errorf("list enabled account ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListByAccount returns every dialog currently assigned to accountID. Used
// to rebuild a session's live-listener subscription set on startup.
func (r *DialogsRepository) ListByAccount(ctx context.Context, accountID int64) ([]models.Dialog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, upstream_id, access_hash, type, title, status, backfill_frontier
		FROM dialogs WHERE assigned_account_id = $1 AND status = $2
	`, accountID, models.DialogStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list dialogs for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var out []models.Dialog
	for rows.Next() {
		var d models.Dialog
		if err := rows.Scan(&d.ID, &d.UpstreamID, &d.AccessHash, &d.Type, &d.Title, &d.Status, &d.BackfillFrontier); err != nil {
			return nil, fmt.Errorf("scan dialog: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateCursor persists the backfill frontier after a committed page, and
// the highest live-observed message ID for late-event detection.
func (r *DialogsRepository) UpdateCursor(ctx context.Context, dialogID, backfillFrontier, lastMessageIDSeen int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dialogs
		SET backfill_frontier = $2, last_message_id_seen = GREATEST(last_message_id_seen, $3), updated_at = NOW()
		WHERE id = $1
	`, dialogID, backfillFrontier, lastMessageIDSeen)
	if err != nil {
		return fmt.Errorf("update dialog cursor: %w", err)
	}
	return nil
}

// ListScrapable returns every active group/supergroup dialog, the only
// types the member scraper is allowed to call iter_participants on
// (channels forbid member listing).
func (r *DialogsRepository) ListScrapable(ctx context.Context) ([]models.Dialog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, upstream_id, access_hash, type, assigned_account_id
		FROM dialogs
		WHERE status = $1 AND type IN ($2, $3) AND assigned_account_id IS NOT NULL
	`, models.DialogStatusActive, models.DialogTypeGroup, models.DialogTypeSupergroup)
	if err != nil {
		return nil, fmt.Errorf("list scrapable dialogs: %w", err)
	}
	defer rows.Close()

	var out []models.Dialog
	for rows.Next() {
		var d models.Dialog
		if err := rows.Scan(&d.ID, &d.UpstreamID, &d.AccessHash, &d.Type, &d.AssignedAccount); err != nil {
			return nil, fmt.Errorf("scan scrapable dialog: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// UpdateMemberScrapeAt stamps the dialog's last member scrape time.
func (r *DialogsRepository) UpdateMemberScrapeAt(ctx context.Context, dialogID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE dialogs SET last_member_scrape_at = NOW(), updated_at = NOW() WHERE id = $1`, dialogID)
	if err != nil {
		return fmt.Errorf("update member scrape time for dialog %d: %w", dialogID, err)
	}
	return nil
}

// RecordError transitions a dialog to error status with the given message.
func (r *DialogsRepository) RecordError(ctx context.Context, dialogID int64, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE dialogs SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, dialogID, models.DialogStatusError, message)
	if err != nil {
		return fmt.Errorf("record dialog error: %w", err)
	}
	return nil
}
