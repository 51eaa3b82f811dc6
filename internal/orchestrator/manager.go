package orchestrator

import (
	"context"
	"sync"
)

// Manager holds one orchestrator per signed-in user. The first request for
// a user acts as the sign-in (clearing any previous selection and kicking
// off the debounced load); sign-out tears the orchestrator down.
type Manager struct {
	deps Deps

	mu     sync.Mutex
	byUser map[string]*Orchestrator
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:   deps,
		byUser: make(map[string]*Orchestrator),
	}
}

// For returns the user's orchestrator, creating and signing it in on first
// sight. The bearer token is refreshed on every call; tokens rotate while
// the orchestrator lives on.
func (m *Manager) For(userID, token string) *Orchestrator {
	m.mu.Lock()
	o, ok := m.byUser[userID]
	if !ok {
		o = New(m.deps)
		m.byUser[userID] = o
	}
	m.mu.Unlock()

	if !ok {
		o.SignIn(userID, token)
	} else {
		o.mu.Lock()
		o.token = token
		o.mu.Unlock()
	}
	return o
}

// SignOut tears down the user's orchestrator and clears their session.
func (m *Manager) SignOut(ctx context.Context, userID string) {
	m.mu.Lock()
	o, ok := m.byUser[userID]
	delete(m.byUser, userID)
	m.mu.Unlock()

	if ok {
		o.SignOut(ctx)
		o.Close()
	}
}

// CloseAll stops every orchestrator's pending timers. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byUser {
		o.Close()
	}
}
