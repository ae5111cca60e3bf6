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

// AccountsRepository handles the accounts table. It implements
// telegram.SessionPersister so a Session can load/save its auth key blob
// directly through this repository without either package importing the
// other's concrete type.
type AccountsRepository struct {
	pool *pgxpool.Pool
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(pool *pgxpool.Pool) *AccountsRepository {
	return &AccountsRepository{pool: pool}
}

// LoadSessionBlob implements telegram.SessionPersister.
func (r *AccountsRepository) LoadSessionBlob(ctx context.Context, accountID int64) ([]byte, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx, `SELECT session_blob FROM accounts WHERE id = $1`, accountID).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session blob: %w", err)
	}
	return blob, nil
}

// SaveSessionBlob implements telegram.SessionPersister.
func (r *AccountsRepository) SaveSessionBlob(ctx context.Context, accountID int64, blob []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET session_blob = $2, updated_at = NOW() WHERE id = $1`, accountID, blob)
	if err != nil {
		return fmt.Errorf("save session blob: %w", err)
	}
	return nil
}

// Create inserts a new account row and populates its generated fields.
func (r *AccountsRepository) Create(ctx context.Context, a *models.Account) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (phone, api_id, api_hash, status, rate_limit_mode, proxy_type, proxy_host, proxy_port, proxy_username, proxy_password)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, a.Phone, a.APIID, a.APIHash, a.Status, a.RateLimitMode, a.ProxyType, a.ProxyHost, a.ProxyPort, a.ProxyUsername, a.ProxyPassword,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetByID returns an account by ID, or nil if not found.
func (r *AccountsRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, phone, api_id, api_hash, session_blob, status, rate_limit_mode,
		       proxy_type, proxy_host, proxy_port, proxy_username, proxy_password,
		       flood_wait_until, messages_collected, errors_count, last_activity_at, last_error_message,
		       created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(
		&a.ID, &a.Phone, &a.APIID, &a.APIHash, &a.SessionBlob, &a.Status, &a.RateLimitMode,
		&a.ProxyType, &a.ProxyHost, &a.ProxyPort, &a.ProxyUsername, &a.ProxyPassword,
		&a.FloodWaitUntil, &a.MessagesCollected, &a.ErrorsCount, &a.LastActivityAt, &a.LastErrorMessage,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return &a, nil
}

// ListEnabled returns every account not in banned/error state.
func (r *AccountsRepository) ListEnabled(ctx context.Context) ([]models.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, phone, api_id, api_hash, status, rate_limit_mode, messages_collected
		FROM accounts
		WHERE status NOT IN ($1, $2)
		ORDER BY id
	`, models.AccountStatusBanned, models.AccountStatusError)
	if err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Phone, &a.APIID, &a.APIHash, &a.Status, &a.RateLimitMode, &a.MessagesCollected); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// ListEnabledIDs is the narrow form the Dialog Registry's load balancer
// uses, avoiding a full row scan per candidate.
func (r *AccountsRepository) ListEnabledIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM accounts
		WHERE status NOT IN ($1, $2)
		ORDER BY id
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

// ListErroredIDs returns every account parked in the error state, for the
// session recovery sweep to retry.
func (r *AccountsRepository) ListErroredIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM accounts WHERE status = $1 ORDER BY id`, models.AccountStatusError)
	if err != nil {
		return nil, fmt.Errorf("list errored account ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan errored account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MessagesCollected returns the account's running message counter, used by
// the registry's least-loaded tiebreaker.
func (r *AccountsRepository) MessagesCollected(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT messages_collected FROM accounts WHERE id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messages collected for account %d: %w", accountID, err)
	}
	return n, nil
}

// UpdateStatus transitions an account's lifecycle status.
func (r *AccountsRepository) UpdateStatus(ctx context.Context, id int64, status models.AccountStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return nil
}

// SetFloodWait records the upstream-advised backoff deadline.
func (r *AccountsRepository) SetFloodWait(ctx context.Context, id int64, until time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET status = $2, flood_wait_until = $3, updated_at = NOW() WHERE id = $1
	`, id, models.AccountStatusFloodWait, until)
	if err != nil {
		return fmt.Errorf("set flood wait: %w", err)
	}
	return nil
}

// RecordError increments the error counter and stores the last error message.
func (r *AccountsRepository) RecordError(ctx context.Context, id int64, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET errors_count = errors_count + 1, last_error_message = $2, last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, message)
	if err != nil {
		return fmt.Errorf("record account error: %w", err)
	}
	return nil
}

// IncrementMessagesCollected bumps the account's running message counter
// and refreshes its last-activity timestamp.
func (r *AccountsRepository) IncrementMessagesCollected(ctx context.Context, id int64, delta int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET messages_collected = messages_collected + $2, last_activity_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, delta)
	if err != nil {
		return fmt.Errorf("increment messages collected: %w", err)
	}
	return nil
}
