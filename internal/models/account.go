// Package models defines the shared row shapes persisted and passed
// between components. Types here are plain structs mapped by hand in
// internal/repository; there is no ORM reflection on these shapes.
package models

import "time"

// AccountStatus is the lifecycle state of an authenticated session.
type AccountStatus string

// AccountStatus constants enumerate an account's authentication lifecycle.
const (
	AccountStatusNew             AccountStatus = "new"
	AccountStatusCodeRequired    AccountStatus = "code_required"
	AccountStatusPasswordRequired AccountStatus = "password_required"
	AccountStatusActive          AccountStatus = "active"
	AccountStatusFloodWait       AccountStatus = "flood_wait"
	AccountStatusBanned          AccountStatus = "banned"
	AccountStatusError           AccountStatus = "error"
)

// ProxyType enumerates supported proxy kinds for an account's connection.
type ProxyType string

// ProxyType constants.
const (
	ProxyTypeNone   ProxyType = ""
	ProxyTypeSOCKS5 ProxyType = "socks5"
	ProxyTypeHTTP   ProxyType = "http"
)

// RateLimitMode selects a token-bucket profile for an account's session.
type RateLimitMode string

// RateLimitMode constants select how aggressively a session paces requests.
const (
	RateLimitAggressive  RateLimitMode = "aggressive"
	RateLimitBalanced    RateLimitMode = "balanced"
	RateLimitConservative RateLimitMode = "conservative"
)

// Account represents a single authenticated Telegram user session.
type Account struct {
	ID            int64         `db:"id"`
	Phone         string        `db:"phone"`
	APIID         int           `db:"api_id"`
	APIHash       string        `db:"api_hash"`
	SessionBlob   []byte        `db:"session_blob"`
	Status        AccountStatus `db:"status"`
	RateLimitMode RateLimitMode `db:"rate_limit_mode"`

	ProxyType     ProxyType `db:"proxy_type"`
	ProxyHost     *string   `db:"proxy_host"`
	ProxyPort     *int      `db:"proxy_port"`
	ProxyUsername *string   `db:"proxy_username"`
	ProxyPassword *string   `db:"proxy_password"`

	FloodWaitUntil *time.Time `db:"flood_wait_until"`

	MessagesCollected int64      `db:"messages_collected"`
	ErrorsCount       int64      `db:"errors_count"`
	LastActivityAt    *time.Time `db:"last_activity_at"`
	LastErrorMessage  *string    `db:"last_error_message"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasProxy reports whether the account is configured to dial through a proxy.
func (a *Account) HasProxy() bool {
	return a.ProxyType != ProxyTypeNone && a.ProxyHost != nil
}

// IsUsable reports whether the account can currently accept new work.
func (a *Account) IsUsable() bool {
	switch a.Status {
	case AccountStatusActive:
		return true
	case AccountStatusFloodWait:
		return a.FloodWaitUntil != nil && time.Now().After(*a.FloodWaitUntil)
	default:
		return false
	}
}
