package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
)

// SearchResult is one matched message row returned by full-text or
// substring search.
type SearchResult struct {
	MessageID int64
	DialogID  int64
	Text      string
	Rank      float64
}

// SearchRepository runs full-text search over messages.text, falling back
// to a plain substring scan when the FTS query fails to parse (e.g. a user
// query websearch_to_tsquery rejects) and the fallback is
// enabled by config.
type SearchRepository struct {
	pool     *pgxpool.Pool
	language string
	fallback bool
	logFail  bool
	log      *logger.Logger
}

// NewSearchRepository builds a search repository from cfg's SEARCH_* knobs.
func NewSearchRepository(pool *pgxpool.Pool, cfg *config.Config) *SearchRepository {
	return &SearchRepository{
		pool:     pool,
		language: cfg.SearchFTSLanguage,
		fallback: cfg.SearchFallbackToSubstring,
		logFail:  cfg.SearchLogFailures,
		log:      logger.Get(),
	}
}

// Search runs a full-text query over messages.text, optionally scoped to
// dialogID (0 means all dialogs), returning up to limit results ranked by
// relevance.
func (r *SearchRepository) Search(ctx context.Context, query string, dialogID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	results, err := r.searchFTS(ctx, query, dialogID, limit)
	if err == nil {
		return results, nil
	}

	if r.logFail {
		r.log.Warn().Err(err).Str("query", query).Msg("search: full-text query failed")
	}
	if !r.fallback {
		return nil, fmt.Errorf("search: %w", err)
	}
	return r.searchSubstring(ctx, query, dialogID, limit)
}

func (r *SearchRepository) searchFTS(ctx context.Context, query string, dialogID int64, limit int) ([]SearchResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dialog_id, text,
		       ts_rank(to_tsvector($1, text), websearch_to_tsquery($1, $2)) AS rank
		FROM messages
		WHERE ($3 = 0 OR dialog_id = $3)
		  AND to_tsvector($1, text) @@ websearch_to_tsquery($1, $2)
		ORDER BY rank DESC
		LIMIT $4
	`, r.language, query, dialogID, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.MessageID, &res.DialogID, &res.Text, &res.Rank); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *SearchRepository) searchSubstring(ctx context.Context, query string, dialogID int64, limit int) ([]SearchResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dialog_id, text
		FROM messages
		WHERE ($1 = 0 OR dialog_id = $1)
		  AND text ILIKE '%' || $2 || '%'
		ORDER BY date DESC
		LIMIT $3
	`, dialogID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("substring query: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.MessageID, &res.DialogID, &res.Text); err != nil {
			return nil, fmt.Errorf("scan substring result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// UserResult is one matched user row.
type UserResult struct {
	UserID   int64
	Username string
	FullName string
	Rank     float64
}

// SearchUsers matches against username, first_name, last_name and bio.
func (r *SearchRepository) SearchUsers(ctx context.Context, query string, limit int) ([]UserResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id,
		       COALESCE(username, ''),
		       TRIM(COALESCE(first_name, '') || ' ' || COALESCE(last_name, '')),
		       ts_rank(
		           to_tsvector($1, COALESCE(username, '') || ' ' || COALESCE(first_name, '') || ' ' || COALESCE(last_name, '') || ' ' || COALESCE(bio, '')),
		           websearch_to_tsquery($1, $2)
		       ) AS rank
		FROM users
		WHERE to_tsvector($1, COALESCE(username, '') || ' ' || COALESCE(first_name, '') || ' ' || COALESCE(last_name, '') || ' ' || COALESCE(bio, ''))
		      @@ websearch_to_tsquery($1, $2)
		ORDER BY rank DESC
		LIMIT $3
	`, r.language, query, limit)
	if err != nil {
		if r.logFail {
			r.log.Warn().Err(err).Str("query", query).Msg("search: user full-text query failed")
		}
		if !r.fallback {
			return nil, fmt.Errorf("search users: %w", err)
		}
		return r.searchUsersSubstring(ctx, query, limit)
	}
	defer rows.Close()

	var out []UserResult
	for rows.Next() {
		var res UserResult
		if err := rows.Scan(&res.UserID, &res.Username, &res.FullName, &res.Rank); err != nil {
			return nil, fmt.Errorf("scan user result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *SearchRepository) searchUsersSubstring(ctx context.Context, query string, limit int) ([]UserResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(username, ''), TRIM(COALESCE(first_name, '') || ' ' || COALESCE(last_name, ''))
		FROM users
		WHERE COALESCE(username, '') ILIKE '%' || $1 || '%'
		   OR COALESCE(first_name, '') ILIKE '%' || $1 || '%'
		   OR COALESCE(last_name, '') ILIKE '%' || $1 || '%'
		ORDER BY id DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("substring user query: %w", err)
	}
	defer rows.Close()

	var out []UserResult
	for rows.Next() {
		var res UserResult
		if err := rows.Scan(&res.UserID, &res.Username, &res.FullName); err != nil {
			return nil, fmt.Errorf("scan substring user result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// DetectionResult is one matched detection row.
type DetectionResult struct {
	DetectionID   int64
	MessageID     int64
	DetectionType string
	MatchedText   string
	Context       string
}

// SearchDetections matches against matched_text and its surrounding context.
func (r *SearchRepository) SearchDetections(ctx context.Context, query string, limit int) ([]DetectionResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id, detection_type, matched_text, context_before || ' ' || context_after
		FROM detections
		WHERE matched_text ILIKE '%' || $1 || '%'
		   OR context_before ILIKE '%' || $1 || '%'
		   OR context_after ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search detections: %w", err)
	}
	defer rows.Close()

	var out []DetectionResult
	for rows.Next() {
		var res DetectionResult
		if err := rows.Scan(&res.DetectionID, &res.MessageID, &res.DetectionType, &res.MatchedText, &res.Context); err != nil {
			return nil, fmt.Errorf("scan detection result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
