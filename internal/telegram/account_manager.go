package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
)

// AccountManager owns the set of live Sessions, one per active Account. It
// is the entry point callers use to start, stop and look up a session
// without reaching into the telegram package's internals.
type AccountManager struct {
	cfg       *config.Config
	persister SessionPersister
	log       *logger.Logger

	mu        sync.RWMutex
	sessions  map[int64]*Session
	onStarted func(*Session)
}

// OnSessionStarted registers a hook invoked after every successful Start,
// whether from the initial account load or a later reconnection by
// RecoverLoop, so callers that wire per-session update handlers (the live
// listener) only need to do it in one place.
func (m *AccountManager) OnSessionStarted(fn func(*Session)) {
	m.onStarted = fn
}

// NewAccountManager constructs an AccountManager backed by persister for
// session blob storage. persister is typically the accounts repository.
func NewAccountManager(cfg *config.Config, persister SessionPersister) *AccountManager {
	return &AccountManager{
		cfg:       cfg,
		persister: persister,
		log:       logger.Get(),
		sessions:  make(map[int64]*Session),
	}
}

// Start builds and connects a Session for acc, registering it under its
// account ID. If a session is already running for this account, Start is a
// no-op and returns the existing one.
func (m *AccountManager) Start(ctx context.Context, acc *models.Account) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[acc.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	sess, err := NewSession(acc, m.cfg, m.persister)
	if err != nil {
		return nil, fmt.Errorf("account %d: build session: %w", acc.ID, err)
	}

	if err := sess.Start(ctx); err != nil {
		return nil, fmt.Errorf("account %d: start session: %w", acc.ID, err)
	}

	m.mu.Lock()
	m.sessions[acc.ID] = sess
	m.mu.Unlock()

	if m.onStarted != nil {
		m.onStarted(sess)
	}

	m.log.Info().Int64("account_id", acc.ID).Msg("telegram: session started")
	return sess, nil
}

// Stop tears down the session for accountID, if one is running.
func (m *AccountManager) Stop(accountID int64) {
	m.mu.Lock()
	sess, ok := m.sessions[accountID]
	if ok {
		delete(m.sessions, accountID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.Stop()
	m.log.Info().Int64("account_id", accountID).Msg("telegram: session stopped")
}

// StopAll tears down every running session. Used on shutdown.
func (m *AccountManager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(sess)
	}
	wg.Wait()
}

// Get returns the running session for accountID, if any.
func (m *AccountManager) Get(accountID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[accountID]
	return sess, ok
}

// Any returns an arbitrary running session, for callers that need to place
// a call under any account rather than a specific one (e.g. enrichment
// scans against a user not tied to a particular dialog's assigned account).
func (m *AccountManager) Any() (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		return sess, true
	}
	return nil, false
}

// Active returns the account IDs with a currently running session.
func (m *AccountManager) Active() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
