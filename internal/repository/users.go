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

// UsersRepository handles the users, identity_changes and memberships
// tables.
type UsersRepository struct {
	pool *pgxpool.Pool
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(pool *pgxpool.Pool) *UsersRepository {
	return &UsersRepository{pool: pool}
}

// GetByUpstreamID returns a user by Telegram ID, or nil if unseen.
func (r *UsersRepository) GetByUpstreamID(ctx context.Context, upstreamID int64) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, upstream_id, username, first_name, last_name, phone, bio,
		       is_bot, is_verified, is_premium, is_scam, is_fake, is_restricted, is_deleted, has_stories,
		       last_seen, current_photo_id, last_enriched_at, messages_count, created_at, updated_at
		FROM users WHERE upstream_id = $1
	`, upstreamID).Scan(
		&u.ID, &u.UpstreamID, &u.Username, &u.FirstName, &u.LastName, &u.Phone, &u.Bio,
		&u.IsBot, &u.IsVerified, &u.IsPremium, &u.IsScam, &u.IsFake, &u.IsRestricted, &u.IsDeleted, &u.HasStories,
		&u.LastSeen, &u.CurrentPhotoID, &u.LastEnrichedAt, &u.MessagesCount, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by upstream id: %w", err)
	}
	return &u, nil
}

// UpsertStub inserts a bare User row (upstream_id, access_hash) if one
// doesn't exist yet, so a message's sender_id FK is always satisfiable even
// before the enrichment scanner fills in profile details. A nonzero
// accessHash refreshes the stored one, since Telegram rotates it over time
// and the enrichment scanners need a current value to address the user.
// Returns the internal ID.
func (r *UsersRepository) UpsertStub(ctx context.Context, upstreamID, accessHash int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (upstream_id, access_hash) VALUES ($1, $2)
		ON CONFLICT (upstream_id) DO UPDATE SET
			access_hash = CASE WHEN EXCLUDED.access_hash != 0 THEN EXCLUDED.access_hash ELSE users.access_hash END
		RETURNING id
	`, upstreamID, accessHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert user stub: %w", err)
	}
	return id, nil
}

// Upsert merges observed identity fields into the user row, recording an
// IdentityChange for every tracked field whose value actually changed (per
// policy), then returns the internal ID.
func (r *UsersRepository) Upsert(ctx context.Context, observed *models.User, policy models.MergePolicy) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin user upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := r.getByUpstreamIDTx(ctx, tx, observed.UpstreamID)
	if err != nil {
		return 0, err
	}

	if existing == nil {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO users (upstream_id, username, first_name, last_name, phone, is_bot, is_verified, is_premium, is_scam, is_fake, is_restricted, is_deleted, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			RETURNING id
		`, observed.UpstreamID, observed.Username, observed.FirstName, observed.LastName, observed.Phone,
			observed.IsBot, observed.IsVerified, observed.IsPremium, observed.IsScam, observed.IsFake, observed.IsRestricted, observed.IsDeleted,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert user: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("commit user insert: %w", err)
		}
		return id, nil
	}

	changes := diffIdentity(existing, observed, policy)
	for _, c := range changes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO identity_changes (user_id, field, old_value, new_value, changed_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, existing.ID, c.Field, c.OldValue, c.NewValue); err != nil {
			return 0, fmt.Errorf("insert identity change: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET
			username = $2, first_name = $3, last_name = $4, phone = $5,
			is_bot = $6, is_verified = $7, is_premium = $8, is_scam = $9, is_fake = $10, is_restricted = $11, is_deleted = $12,
			last_seen = NOW(), updated_at = NOW()
		WHERE id = $1
	`, existing.ID, observed.Username, observed.FirstName, observed.LastName, observed.Phone,
		observed.IsBot, observed.IsVerified, observed.IsPremium, observed.IsScam, observed.IsFake, observed.IsRestricted, observed.IsDeleted)
	if err != nil {
		return 0, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit user upsert: %w", err)
	}
	return existing.ID, nil
}

func (r *UsersRepository) getByUpstreamIDTx(ctx context.Context, tx pgx.Tx, upstreamID int64) (*models.User, error) {
	var u models.User
	err := tx.QueryRow(ctx, `
		SELECT id, upstream_id, username, first_name, last_name, phone, is_bot, is_verified, is_premium, is_scam, is_fake, is_restricted, is_deleted
		FROM users WHERE upstream_id = $1 FOR UPDATE
	`, upstreamID).Scan(
		&u.ID, &u.UpstreamID, &u.Username, &u.FirstName, &u.LastName, &u.Phone,
		&u.IsBot, &u.IsVerified, &u.IsPremium, &u.IsScam, &u.IsFake, &u.IsRestricted, &u.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user for update: %w", err)
	}
	return &u, nil
}

type identityChange struct {
	Field    models.IdentityField
	OldValue *string
	NewValue *string
}

func diffIdentity(existing, observed *models.User, policy models.MergePolicy) []identityChange {
	var changes []identityChange
	if policy.TrackUsername && !strPtrEqual(existing.Username, observed.Username) {
		changes = append(changes, identityChange{Field: models.IdentityFieldUsername, OldValue: existing.Username, NewValue: observed.Username})
	}
	if policy.TrackFirstName && !strPtrEqual(existing.FirstName, observed.FirstName) {
		changes = append(changes, identityChange{Field: models.IdentityFieldFirstName, OldValue: existing.FirstName, NewValue: observed.FirstName})
	}
	if policy.TrackLastName && !strPtrEqual(existing.LastName, observed.LastName) {
		changes = append(changes, identityChange{Field: models.IdentityFieldLastName, OldValue: existing.LastName, NewValue: observed.LastName})
	}
	if policy.TrackPhone && !strPtrEqual(existing.Phone, observed.Phone) {
		changes = append(changes, identityChange{Field: models.IdentityFieldPhone, OldValue: existing.Phone, NewValue: observed.Phone})
	}
	return changes
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// UpsertMembership records or refreshes a user's membership in a dialog.
func (r *UsersRepository) UpsertMembership(ctx context.Context, m *models.Membership) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO memberships (user_id, dialog_id, joined_at, is_admin, admin_title, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (user_id, dialog_id) DO UPDATE SET
			is_admin = EXCLUDED.is_admin, admin_title = EXCLUDED.admin_title, is_active = true, updated_at = NOW()
	`, m.UserID, m.DialogID, m.JoinedAt, m.IsAdmin, m.AdminTitle)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// MarkLeft flags a membership inactive with a leave reason, used by the
// member scraper when a previously-seen member no longer appears.
func (r *UsersRepository) MarkLeft(ctx context.Context, userID, dialogID int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE memberships SET is_active = false, leave_reason = $3, updated_at = NOW()
		WHERE user_id = $1 AND dialog_id = $2
	`, userID, dialogID, reason)
	if err != nil {
		return fmt.Errorf("mark membership left: %w", err)
	}
	return nil
}

// StaleForEnrichment returns user IDs not enriched within freshnessWindow,
// bounded to limit rows, for the enrichment schedulers to pick up.
func (r *UsersRepository) StaleForEnrichment(ctx context.Context, freshnessWindow time.Duration, limit int) ([]int64, error) {
	cutoff := time.Now().Add(-freshnessWindow)
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM users
		WHERE last_enriched_at IS NULL OR last_enriched_at < $2
		ORDER BY last_enriched_at NULLS FIRST
		LIMIT $1
	`, limit, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListWithStories returns user IDs and upstream IDs for users flagged
// has_stories=true, the source set the story scanner iterates.
func (r *UsersRepository) ListWithStories(ctx context.Context, limit int) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, upstream_id, access_hash FROM users WHERE has_stories = true LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users with stories: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.UpstreamID, &u.AccessHash); err != nil {
			return nil, fmt.Errorf("scan user with stories: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

// SetHasStories flags whether a user currently has an active story, as
// observed by the story scanner or the profile enrichment pass.
func (r *UsersRepository) SetHasStories(ctx context.Context, userID int64, has bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET has_stories = $2, updated_at = NOW() WHERE id = $1`, userID, has)
	if err != nil {
		return fmt.Errorf("set has_stories: %w", err)
	}
	return nil
}

// GetByID looks up a user by surrogate key, for schedulers that only have
// the internal ID in hand (e.g. from StaleForEnrichment).
func (r *UsersRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT id, upstream_id, access_hash FROM users WHERE id = $1`, id).Scan(&u.ID, &u.UpstreamID, &u.AccessHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// MarkEnriched stamps last_enriched_at for a user after a successful scan.
func (r *UsersRepository) MarkEnriched(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_enriched_at = NOW(), updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark user enriched: %w", err)
	}
	return nil
}
