package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// StoriesRepository handles the stories table.
type StoriesRepository struct {
	pool *pgxpool.Pool
}

// NewStoriesRepository creates a new stories repository.
func NewStoriesRepository(pool *pgxpool.Pool) *StoriesRepository {
	return &StoriesRepository{pool: pool}
}

// Upsert inserts a story keyed by (user_id, upstream_story_id). On conflict
// it refreshes only views_count and is_pinned and returns the existing id.
func (r *StoriesRepository) Upsert(ctx context.Context, s *models.Story) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stories (user_id, upstream_story_id, expires_at, views_count, is_pinned)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, upstream_story_id) DO UPDATE SET
			views_count = EXCLUDED.views_count, is_pinned = EXCLUDED.is_pinned
		RETURNING id
	`, s.UserID, s.UpstreamStoryID, s.ExpiresAt, s.ViewsCount, s.IsPinned).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert story: %w", err)
	}
	return id, nil
}

// MarkDownloaded records the local path of a downloaded story asset.
func (r *StoriesRepository) MarkDownloaded(ctx context.Context, id int64, filePath string) error {
	_, err := r.pool.Exec(ctx, `UPDATE stories SET file_path = $2 WHERE id = $1`, id, filePath)
	if err != nil {
		return fmt.Errorf("mark story downloaded: %w", err)
	}
	return nil
}
