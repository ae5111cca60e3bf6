package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// MediaRepository handles the media_files table.
type MediaRepository struct {
	db DBTX
}

// NewMediaRepository creates a new media repository.
func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{db: pool}
}

// WithTx returns a repository bound to tx instead of the pool, so its
// statements join an existing transaction rather than auto-committing.
func (r *MediaRepository) WithTx(tx pgx.Tx) *MediaRepository {
	return &MediaRepository{db: tx}
}

// InsertQueued creates the media_files row for a newly observed message's
// attachment, in processing_status=queued.
func (r *MediaRepository) InsertQueued(ctx context.Context, messageID int64, fileType models.MediaFileType, priority int) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO media_files (message_id, file_type, processing_status, processing_priority, validation_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO UPDATE SET message_id = EXCLUDED.message_id
		RETURNING id
	`, messageID, fileType, models.ProcessingQueued, priority, models.ValidationPending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert queued media: %w", err)
	}
	return id, nil
}

// GetQueued returns a media_files row by ID, for the pipeline worker to
// look up what it was handed by the listener's Enqueue call.
func (r *MediaRepository) GetQueued(ctx context.Context, id int64) (*models.MediaFile, error) {
	var m models.MediaFile
	err := r.db.QueryRow(ctx, `
		SELECT id, message_id, file_type, processing_status
		FROM media_files WHERE id = $1
	`, id).Scan(&m.ID, &m.MessageID, &m.FileType, &m.ProcessingStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get queued media %d: %w", id, err)
	}
	return &m, nil
}

// FindByContentHash looks up an already-downloaded file sharing the same
// sha-256 content hash, for first-stage dedup.
func (r *MediaRepository) FindByContentHash(ctx context.Context, hash string) (*models.MediaFile, error) {
	var m models.MediaFile
	err := r.db.QueryRow(ctx, `
		SELECT id, message_id, file_type, file_path, file_size, content_hash, perceptual_hash
		FROM media_files WHERE content_hash = $1 AND processing_status = $2
		LIMIT 1
	`, hash, models.ProcessingCompleted).Scan(&m.ID, &m.MessageID, &m.FileType, &m.FilePath, &m.FileSize, &m.ContentHash, &m.PerceptualHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find media by content hash: %w", err)
	}
	return &m, nil
}

// CandidatesForPerceptualDedup returns completed media of the same file
// type carrying a perceptual hash, for second-stage near-duplicate checks.
func (r *MediaRepository) CandidatesForPerceptualDedup(ctx context.Context, fileType models.MediaFileType, limit int) ([]models.MediaFile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, perceptual_hash, file_path
		FROM media_files
		WHERE file_type = $1 AND processing_status = $2 AND perceptual_hash IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $3
	`, fileType, models.ProcessingCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list perceptual dedup candidates: %w", err)
	}
	defer rows.Close()

	var out []models.MediaFile
	for rows.Next() {
		var m models.MediaFile
		if err := rows.Scan(&m.ID, &m.PerceptualHash, &m.FilePath); err != nil {
			return nil, fmt.Errorf("scan dedup candidate: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkDownloaded records a successful download with its hashes and
// dimensions, transitioning to validation_status=valid/processing=completed.
func (r *MediaRepository) MarkDownloaded(ctx context.Context, id int64, filePath, contentHash string, perceptualHash *uint64, method models.DuplicateDetectionMethod, fileSize int64, width, height *int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media_files SET
			file_path = $2, content_hash = $3, perceptual_hash = $4, duplicate_detection_method = $5,
			file_size = $6, width = $7, height = $8,
			validation_status = $9, processing_status = $10, updated_at = NOW()
		WHERE id = $1
	`, id, filePath, contentHash, perceptualHash, method, fileSize, width, height, models.ValidationValid, models.ProcessingCompleted)
	if err != nil {
		return fmt.Errorf("mark media downloaded: %w", err)
	}
	return nil
}

// MarkInvalid records a download that completed but failed format, size, or
// dimension validation. Unlike MarkFailed it does not increment the retry
// counter: a corrupt or wrong-format upstream file will not pass validation
// on a later attempt either.
func (r *MediaRepository) MarkInvalid(ctx context.Context, id int64, status models.ValidationStatus, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media_files SET
			validation_status = $2,
			download_error_category = $3,
			processing_status = $4,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, reason, models.ProcessingFailed)
	if err != nil {
		return fmt.Errorf("mark media invalid: %w", err)
	}
	return nil
}

// MarkFailed records a failed download attempt, incrementing the retry
// counter and storing the error category the retry wrapper classified.
func (r *MediaRepository) MarkFailed(ctx context.Context, id int64, errorCategory string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media_files SET
			download_attempts = download_attempts + 1,
			last_download_attempt = NOW(),
			download_error_category = $2,
			processing_status = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, errorCategory, models.ProcessingFailed)
	if err != nil {
		return fmt.Errorf("mark media failed: %w", err)
	}
	return nil
}

// PendingRetries returns failed media under maxAttempts, for the retry
// service's periodic sweep, bounded by batchSize.
func (r *MediaRepository) PendingRetries(ctx context.Context, maxAttempts, batchSize int) ([]models.MediaFile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, file_type, download_attempts
		FROM media_files
		WHERE processing_status = $1 AND download_attempts < $2
		ORDER BY last_download_attempt ASC NULLS FIRST
		LIMIT $3
	`, models.ProcessingFailed, maxAttempts, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending media retries: %w", err)
	}
	defer rows.Close()

	var out []models.MediaFile
	for rows.Next() {
		var m models.MediaFile
		if err := rows.Scan(&m.ID, &m.MessageID, &m.FileType, &m.DownloadAttempts); err != nil {
			return nil, fmt.Errorf("scan pending retry: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkQueued resets a media file to queued, for the retry service re-enqueuing it.
func (r *MediaRepository) MarkQueued(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE media_files SET processing_status = $2, updated_at = NOW() WHERE id = $1`, id, models.ProcessingQueued)
	if err != nil {
		return fmt.Errorf("mark media queued: %w", err)
	}
	return nil
}
