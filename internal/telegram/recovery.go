package telegram

import (
	"context"
	"time"

	"github.com/blockedby/positions-os/internal/models"
)

// AccountLookup resolves account rows for the session recovery sweep,
// without AccountManager needing the full repository surface.
type AccountLookup interface {
	ListErroredIDs(ctx context.Context) ([]int64, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	UpdateStatus(ctx context.Context, id int64, status models.AccountStatus) error
}

type recoveryState struct {
	nextAttempt time.Time
	failCount   int
}

// RecoverLoop periodically attempts to reconnect accounts parked in the
// error state, e.g. after a failed auth renewal or a run loop that exited
// with an unrecoverable error. Each account backs off exponentially from
// its own repeated failures, capped at maxBackoff, so a permanently
// invalid credential doesn't get retried every tick forever. Blocks until
// ctx is canceled.
func (m *AccountManager) RecoverLoop(ctx context.Context, accounts AccountLookup, interval, maxBackoff time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	state := make(map[int64]*recoveryState)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx, accounts, state, maxBackoff)
		}
	}
}

// sweep runs one recovery pass: every account currently parked in error
// state is a candidate, unless it's already running (raced back by some
// other path) or still inside its own backoff window.
func (m *AccountManager) sweep(ctx context.Context, accounts AccountLookup, state map[int64]*recoveryState, maxBackoff time.Duration) {
	ids, err := accounts.ListErroredIDs(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("telegram: list errored accounts for recovery failed")
		return
	}

	now := time.Now()
	active := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
		m.attemptRecovery(ctx, accounts, id, state, now, maxBackoff)
	}

	for id := range state {
		if _, stillErrored := active[id]; !stillErrored {
			delete(state, id)
		}
	}
}

func (m *AccountManager) attemptRecovery(ctx context.Context, accounts AccountLookup, id int64, state map[int64]*recoveryState, now time.Time, maxBackoff time.Duration) {
	if _, running := m.Get(id); running {
		delete(state, id)
		return
	}

	st, ok := state[id]
	if ok && now.Before(st.nextAttempt) {
		return
	}
	if !ok {
		st = &recoveryState{}
		state[id] = st
	}

	acc, err := accounts.GetByID(ctx, id)
	if err != nil || acc == nil {
		return
	}

	if _, err := m.Start(ctx, acc); err != nil {
		st.failCount++
		backoff := nextBackoff(st.failCount, maxBackoff)
		st.nextAttempt = now.Add(backoff)
		m.log.Warn().Err(err).Int64("account_id", id).Dur("retry_in", backoff).Msg("telegram: session recovery attempt failed")
		return
	}

	delete(state, id)
	if err := accounts.UpdateStatus(ctx, id, models.AccountStatusActive); err != nil {
		m.log.Error().Err(err).Int64("account_id", id).Msg("telegram: mark account active after recovery failed")
	}
	m.log.Info().Int64("account_id", id).Msg("telegram: session recovered from error state")
}

// nextBackoff computes the delay before the next reconnection attempt
// after failCount consecutive failures: doubling from 2s, capped at
// maxBackoff.
func nextBackoff(failCount int, maxBackoff time.Duration) time.Duration {
	backoff := time.Duration(1<<min(failCount, 10)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
