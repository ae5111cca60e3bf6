// Package rpcerr classifies upstream RPC failures and drives retry policy
// for the session manager and schedulers.
package rpcerr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Category buckets a failure for retry purposes.
type Category string

// Category values.
const (
	CategoryTemporary Category = "temporary"
	CategoryPermanent Category = "permanent"
	CategoryRateLimit Category = "rate_limit"
)

// Classified wraps an error with its retry category and, for rate-limit
// errors, the server-advised wait. WaitSeconds is -1 when the category is
// rate-limit but no explicit FLOOD_WAIT_n was parsed out of the message.
type Classified struct {
	Err         error
	Category    Category
	WaitSeconds int
}

func (c *Classified) Error() string {
	return c.Err.Error()
}

func (c *Classified) Unwrap() error {
	return c.Err
}

// Classify inspects err and assigns it a retry Category.
//
// gotd/gotgproto wrap upstream RPC failures rather than exposing a stable
// error type, so classification works the same way the session client
// checks for FLOOD_WAIT: by scanning the error string, not by coupling to
// a gotd error type.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}

	str := err.Error()
	if seconds := floodWaitSeconds(str); seconds >= 0 {
		return &Classified{Err: err, Category: CategoryRateLimit, WaitSeconds: seconds}
	}

	msg := strings.ToLower(str)
	for _, kw := range []string{"flood", "rate limit", "too many requests", "slow mode"} {
		if strings.Contains(msg, kw) {
			return &Classified{Err: err, Category: CategoryRateLimit, WaitSeconds: -1}
		}
	}
	for _, kw := range []string{"not found", "invalid", "forbidden", "unauthorized", "permission denied", "access denied", "bad request", "banned", "auth_key", "session_revoked", "session_password_needed"} {
		if strings.Contains(msg, kw) {
			return &Classified{Err: err, Category: CategoryPermanent}
		}
	}

	// unknown errors default to temporary: safer to retry than to drop work.
	return &Classified{Err: err, Category: CategoryTemporary}
}

// floodWaitSeconds extracts the wait duration from a FLOOD_WAIT_X rpc error
// string, e.g. "rpc error: code 420: FLOOD_WAIT_15". Returns -1 if the
// string carries no FLOOD_WAIT_ marker; a FLOOD_WAIT_0 is a valid (if
// degenerate) server-advised wait and returns 0, not -1.
func floodWaitSeconds(str string) int {
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return -1
	}
	parts := strings.SplitN(str, "FLOOD_WAIT_", 2)
	if len(parts) < 2 {
		return -1
	}
	numStr := strings.TrimSpace(parts[1])
	end := 0
	for end < len(numStr) && numStr[end] >= '0' && numStr[end] <= '9' {
		end++
	}
	if end == 0 {
		return -1
	}
	seconds, _ := strconv.Atoi(numStr[:end])
	return seconds
}

// Sentinel errors returned by higher-level components for conditions that
// are not plain upstream RPC failures.
var (
	ErrAuthRequired     = errors.New("rpcerr: authentication required")
	ErrInvalid2FA       = errors.New("rpcerr: invalid two-factor password")
	ErrSessionBanned    = errors.New("rpcerr: session banned")
	ErrNotFound         = errors.New("rpcerr: entity not found")
	ErrPermissionDenied = errors.New("rpcerr: permission denied")
	ErrDuplicateKey     = errors.New("rpcerr: duplicate key")
)

// ValidationError reports a request that failed local validation before any
// upstream call was attempted.
type ValidationError struct {
	What string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rpcerr: validation failed: %s", e.What)
}

// PersistenceError wraps a failure from the storage layer with the
// operation that triggered it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("rpcerr: persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
