package telegram

import (
	"testing"

	"github.com/blockedby/positions-os/internal/config"
)

func TestAccountManager_GetAndActive(t *testing.T) {
	m := NewAccountManager(&config.Config{}, nil)

	if _, ok := m.Get(1); ok {
		t.Fatal("expected no session for unknown account")
	}
	if len(m.Active()) != 0 {
		t.Fatalf("expected no active sessions, got %v", m.Active())
	}

	sess := &Session{accountID: 1}
	m.mu.Lock()
	m.sessions[1] = sess
	m.mu.Unlock()

	got, ok := m.Get(1)
	if !ok || got != sess {
		t.Fatal("expected to retrieve the injected session")
	}

	active := m.Active()
	if len(active) != 1 || active[0] != 1 {
		t.Fatalf("expected [1], got %v", active)
	}
}

func TestAccountManager_StopRemovesSession(t *testing.T) {
	m := NewAccountManager(&config.Config{}, nil)

	sess := &Session{accountID: 2, queue: newCallQueue(1)}
	m.mu.Lock()
	m.sessions[2] = sess
	m.mu.Unlock()

	m.Stop(2)

	if _, ok := m.Get(2); ok {
		t.Fatal("expected session to be removed after Stop")
	}
}

func TestAccountManager_StopUnknownAccountIsNoop(t *testing.T) {
	m := NewAccountManager(&config.Config{}, nil)
	m.Stop(999)
}
