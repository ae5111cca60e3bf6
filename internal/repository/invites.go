package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// InvitesRepository handles the invites table.
type InvitesRepository struct {
	pool *pgxpool.Pool
}

// NewInvitesRepository creates a new invites repository.
func NewInvitesRepository(pool *pgxpool.Pool) *InvitesRepository {
	return &InvitesRepository{pool: pool}
}

// Create inserts a pending invite keyed by link, returning the existing row
// untouched if the link was already submitted.
func (r *InvitesRepository) Create(ctx context.Context, link string, source models.Invite) (*models.Invite, error) {
	var inv models.Invite
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invites (link, status, source_group_id, source_user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (link) DO UPDATE SET link = EXCLUDED.link
		RETURNING id, link, invite_hash, status, retry_count, preview_title, preview_about, preview_member_count,
		          preview_photo_path, preview_is_channel, source_group_id, source_user_id,
		          joined_by_account_id, joined_at, created_at, updated_at
	`, link, models.InviteStatusPending, source.SourceGroupID, source.SourceUserID).Scan(
		&inv.ID, &inv.Link, &inv.InviteHash, &inv.Status, &inv.RetryCount, &inv.PreviewTitle, &inv.PreviewAbout, &inv.PreviewMemberCount,
		&inv.PreviewPhotoPath, &inv.PreviewIsChannel, &inv.SourceGroupID, &inv.SourceUserID,
		&inv.JoinedByAccount, &inv.JoinedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	return &inv, nil
}

// Get returns an invite by ID, or nil if not found.
func (r *InvitesRepository) Get(ctx context.Context, id int64) (*models.Invite, error) {
	var inv models.Invite
	err := r.pool.QueryRow(ctx, `
		SELECT id, link, invite_hash, status, retry_count, preview_title, preview_about, preview_member_count,
		       preview_photo_path, preview_is_channel, source_group_id, source_user_id,
		       joined_by_account_id, joined_at, created_at, updated_at
		FROM invites WHERE id = $1
	`, id).Scan(
		&inv.ID, &inv.Link, &inv.InviteHash, &inv.Status, &inv.RetryCount, &inv.PreviewTitle, &inv.PreviewAbout, &inv.PreviewMemberCount,
		&inv.PreviewPhotoPath, &inv.PreviewIsChannel, &inv.SourceGroupID, &inv.SourceUserID,
		&inv.JoinedByAccount, &inv.JoinedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invite %d: %w", id, err)
	}
	return &inv, nil
}

// List returns every invite, most recently created first.
func (r *InvitesRepository) List(ctx context.Context) ([]models.Invite, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, link, invite_hash, status, retry_count, preview_title, preview_member_count, created_at
		FROM invites ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var out []models.Invite
	for rows.Next() {
		var inv models.Invite
		if err := rows.Scan(&inv.ID, &inv.Link, &inv.InviteHash, &inv.Status, &inv.RetryCount, &inv.PreviewTitle, &inv.PreviewMemberCount, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, nil
}

// Delete removes an invite permanently.
func (r *InvitesRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM invites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invite %d: %w", id, err)
	}
	return nil
}

// UpdateResolved stores a resolved invite's preview fields and hash.
func (r *InvitesRepository) UpdateResolved(ctx context.Context, id int64, hash string, status models.InviteStatus, title, about *string, memberCount *int, isChannel bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE invites SET
			invite_hash = $2, status = $3, preview_title = $4, preview_about = $5,
			preview_member_count = $6, preview_is_channel = $7, updated_at = NOW()
		WHERE id = $1
	`, id, hash, status, title, about, memberCount, isChannel)
	if err != nil {
		return fmt.Errorf("update resolved invite: %w", err)
	}
	return nil
}

// MarkJoined records a successful join under accountID.
func (r *InvitesRepository) MarkJoined(ctx context.Context, id, accountID int64, status models.InviteStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE invites SET status = $2, joined_by_account_id = $3, joined_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, status, accountID)
	if err != nil {
		return fmt.Errorf("mark invite joined: %w", err)
	}
	return nil
}

// MarkFailed transitions an invite to a terminal or retryable failure
// status, bumping retry_count.
func (r *InvitesRepository) MarkFailed(ctx context.Context, id int64, status models.InviteStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE invites SET status = $2, retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("mark invite failed: %w", err)
	}
	return nil
}

// LastJoinAt returns the most recent join timestamp for accountID, or nil
// if the account has never joined anything. Used by the rotation policy's
// least-recently-joined tiebreaker.
func (r *InvitesRepository) LastJoinAt(ctx context.Context, accountID int64) (*time.Time, error) {
	var t *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(joined_at) FROM invites WHERE joined_by_account_id = $1
	`, accountID).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("last join for account %d: %w", accountID, err)
	}
	return t, nil
}

// JoinCountSince counts joins accountID has made since cutoff, for the
// daily-cap check.
func (r *InvitesRepository) JoinCountSince(ctx context.Context, accountID int64, cutoff time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM invites WHERE joined_by_account_id = $1 AND joined_at >= $2
	`, accountID, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("join count for account %d: %w", accountID, err)
	}
	return n, nil
}
