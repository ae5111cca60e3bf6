package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// ProfilePhotosRepository handles the profile_photos table.
type ProfilePhotosRepository struct {
	pool *pgxpool.Pool
}

// NewProfilePhotosRepository creates a new profile photos repository.
func NewProfilePhotosRepository(pool *pgxpool.Pool) *ProfilePhotosRepository {
	return &ProfilePhotosRepository{pool: pool}
}

// Upsert inserts a photo keyed by (user_id, upstream_photo_id), a no-op on
// conflict since historical photo rows are immutable once observed.
func (r *ProfilePhotosRepository) Upsert(ctx context.Context, p *models.ProfilePhoto) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO profile_photos (user_id, upstream_photo_id, is_video, captured_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, upstream_photo_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id
	`, p.UserID, p.UpstreamPhotoID, p.IsVideo, p.CapturedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert profile photo: %w", err)
	}
	return id, nil
}

// SetCurrent atomically marks photoID as the user's current photo,
// clearing is_current on every other row for that user, preserving the
// invariant that exactly one photo is current at a time.
func (r *ProfilePhotosRepository) SetCurrent(ctx context.Context, userID, photoID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set current photo: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE profile_photos SET is_current = false WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear current photo: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE profile_photos SET is_current = true WHERE id = $1`, photoID); err != nil {
		return fmt.Errorf("set current photo: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET current_photo_id = $2, updated_at = NOW() WHERE id = $1`, userID, photoID); err != nil {
		return fmt.Errorf("update user current photo: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set current photo: %w", err)
	}
	return nil
}

// MarkDownloaded records the local path of a downloaded profile photo.
func (r *ProfilePhotosRepository) MarkDownloaded(ctx context.Context, id int64, filePath string) error {
	_, err := r.pool.Exec(ctx, `UPDATE profile_photos SET file_path = $2 WHERE id = $1`, id, filePath)
	if err != nil {
		return fmt.Errorf("mark profile photo downloaded: %w", err)
	}
	return nil
}
