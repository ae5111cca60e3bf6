package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/models"
)

// DetectionsRepository handles the detectors and detections tables.
type DetectionsRepository struct {
	db DBTX
}

// NewDetectionsRepository creates a new detections repository.
func NewDetectionsRepository(pool *pgxpool.Pool) *DetectionsRepository {
	return &DetectionsRepository{db: pool}
}

// WithTx returns a repository bound to tx instead of the pool, so its
// statements join an existing transaction rather than auto-committing.
func (r *DetectionsRepository) WithTx(tx pgx.Tx) *DetectionsRepository {
	return &DetectionsRepository{db: tx}
}

// ListActiveDetectors returns every active detector ordered by descending
// priority, the set the Extractor is refreshed from.
func (r *DetectionsRepository) ListActiveDetectors(ctx context.Context) ([]models.Detector, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, pattern, category, priority, is_builtin, is_active, created_at
		FROM detectors WHERE is_active = true ORDER BY priority DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active detectors: %w", err)
	}
	defer rows.Close()

	var out []models.Detector
	for rows.Next() {
		var d models.Detector
		if err := rows.Scan(&d.ID, &d.Name, &d.Pattern, &d.Category, &d.Priority, &d.IsBuiltin, &d.IsActive, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detector: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

// InsertDetection records one occurrence, skipping a duplicate of the same
// (message, detector, matched_text) triple.
func (r *DetectionsRepository) InsertDetection(ctx context.Context, d *models.Detection) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO detections (message_id, detector_id, detection_type, matched_text, normalized_value, context_before, context_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id, detector_id, matched_text) DO NOTHING
	`, d.MessageID, d.DetectorID, d.DetectionType, d.MatchedText, d.NormalizedValue, d.ContextBefore, d.ContextAfter)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// InsertDetections persists a batch of detections for one message, one
// InsertDetection at a time. It opens no transaction of its own: the inserts
// share one only when the repository was bound to a tx with WithTx.
func (r *DetectionsRepository) InsertDetections(ctx context.Context, detections []models.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	for _, d := range detections {
		if err := r.InsertDetection(ctx, &d); err != nil {
			return err
		}
	}
	return nil
}

// CountByType returns detection counts grouped by type, for dashboard stats.
func (r *DetectionsRepository) CountByType(ctx context.Context) (map[models.DetectionType]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT detection_type, COUNT(*) FROM detections GROUP BY detection_type`)
	if err != nil {
		return nil, fmt.Errorf("count detections by type: %w", err)
	}
	defer rows.Close()

	out := make(map[models.DetectionType]int64)
	for rows.Next() {
		var t models.DetectionType
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan detection count: %w", err)
		}
		out[t] = n
	}
	return out, nil
}
