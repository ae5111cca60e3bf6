package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// SessionPersister loads and saves the opaque session blob for one account.
// Implemented by the accounts repository; kept as a narrow interface here
// so this package does not import the repository package.
type SessionPersister interface {
	LoadSessionBlob(ctx context.Context, accountID int64) ([]byte, error)
	SaveSessionBlob(ctx context.Context, accountID int64, blob []byte) error
}

// AccountSessionStorage adapts a SessionPersister to gotd's session.Storage
// interface, scoped to a single account. gotd calls StoreSession on every
// auth key rotation, so an account's session_blob column always reflects
// the latest key without any explicit save step from the caller.
type AccountSessionStorage struct {
	accountID int64
	persister SessionPersister

	mu     sync.Mutex
	cached []byte
}

// NewAccountSessionStorage builds a per-account session.Storage.
func NewAccountSessionStorage(accountID int64, persister SessionPersister) *AccountSessionStorage {
	return &AccountSessionStorage{accountID: accountID, persister: persister}
}

// LoadSession implements session.Storage.
func (s *AccountSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	data, err := s.persister.LoadSessionBlob(ctx, s.accountID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}
	s.cached = data
	return data, nil
}

// StoreSession implements session.Storage.
func (s *AccountSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.cached = data
	s.mu.Unlock()

	return s.persister.SaveSessionBlob(ctx, s.accountID, data)
}
