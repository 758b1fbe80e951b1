// ABOUTME: In-memory registry of live account sessions with health tracking
// ABOUTME: Single writer for health/activity fields, guarded by one mutex scoped to memory updates

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Health describes how well a registered session is doing.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthWarning      Health = "warning"
	HealthError        Health = "error"
	HealthDisconnected Health = "disconnected"
)

// canTransition encodes the health state machine. There is no terminal
// state; removal happens via logout, not via transitions.
func canTransition(from, to Health) bool {
	if from == to {
		return true
	}
	switch to {
	case HealthDisconnected:
		// Explicit network-loss signal is valid from anywhere
		return true
	case HealthHealthy:
		// Success, recovery or reconnect all land here
		return true
	case HealthWarning:
		return from == HealthHealthy
	case HealthError:
		return from == HealthWarning
	}
	return false
}

// managed is one live session entry. It never leaves the registry; readers
// get Status snapshots so no half-updated entry is ever observed.
type managed struct {
	accountID    int64
	handle       string
	conn         any // opaque live-connection handle owned by the caller
	lastActivity time.Time
	health       Health
}

// Status is an immutable snapshot of one registered session.
type Status struct {
	AccountID    int64     `json:"account_id"`
	Handle       string    `json:"handle"`
	IsConnected  bool      `json:"is_connected"`
	LastActivity time.Time `json:"last_activity"`
	Health       Health    `json:"session_health"`
}

// Registry tracks the live sessions of all logged-in accounts, keyed by
// handle. All mutations are atomic with respect to one another; the lock is
// never held across I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*managed
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*managed),
		logger:   logger.With("component", "session"),
	}
}

// Add inserts or overwrites the entry for a handle. Re-login is idempotent:
// an existing entry is replaced, never duplicated. Initial health is Healthy.
func (r *Registry) Add(handle string, accountID int64, conn any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.sessions[handle]
	r.sessions[handle] = &managed{
		accountID:    accountID,
		handle:       handle,
		conn:         conn,
		lastActivity: time.Now().UTC(),
		health:       HealthHealthy,
	}

	r.logger.Info("session registered",
		"handle", handle,
		"account_id", accountID,
		"replaced", replaced,
		"total_sessions", len(r.sessions),
	)
}

// Get returns a snapshot of the entry for a handle. Absence is a normal
// false, not an error.
func (r *Registry) Get(handle string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.sessions[handle]
	if !ok {
		return Status{}, false
	}
	return m.snapshot(), true
}

// Conn returns the opaque connection handle for a registered session.
func (r *Registry) Conn(handle string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.sessions[handle]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// Remove evicts the entry for a handle and returns its connection handle so
// the caller can release underlying resources. Returns false if absent.
func (r *Registry) Remove(handle string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[handle]
	if !ok {
		return nil, false
	}
	delete(r.sessions, handle)

	r.logger.Info("session removed", "handle", handle, "total_sessions", len(r.sessions))
	return m.conn, true
}

// ActiveHandles returns the handles whose sessions are Healthy or Warning.
// Error and Disconnected entries stay registered but are excluded until
// recovered or removed.
func (r *Registry) ActiveHandles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]string, 0, len(r.sessions))
	for handle, m := range r.sessions {
		if m.health == HealthHealthy || m.health == HealthWarning {
			handles = append(handles, handle)
		}
	}
	return handles
}

// Statuses returns a snapshot of every registered session.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.sessions))
	for _, m := range r.sessions {
		statuses = append(statuses, m.snapshot())
	}
	return statuses
}

// MarkActivity records a successful remote operation on a handle: last
// activity moves to now and health returns to Healthy.
func (r *Registry) MarkActivity(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[handle]
	if !ok {
		return
	}
	m.lastActivity = time.Now().UTC()
	m.health = HealthHealthy
}

// SetHealth applies an explicit health transition. Transitions outside the
// state machine are ignored.
func (r *Registry) SetHealth(handle string, health Health) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[handle]
	if !ok {
		return
	}
	if !canTransition(m.health, health) {
		r.logger.Debug("ignoring invalid health transition",
			"handle", handle, "from", m.health, "to", health)
		return
	}

	if m.health != health {
		r.logger.Info("session health changed", "handle", handle, "from", m.health, "to", health)
	}
	m.health = health
}

// RecordFailure applies one soft failure: Healthy degrades to Warning,
// Warning to Error. Error and Disconnected are left alone; reaching
// Disconnected requires an explicit network-loss signal via SetHealth.
func (r *Registry) RecordFailure(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[handle]
	if !ok {
		return
	}

	var next Health
	switch m.health {
	case HealthHealthy:
		next = HealthWarning
	case HealthWarning:
		next = HealthError
	default:
		return
	}

	r.logger.Warn("session degraded", "handle", handle, "from", m.health, "to", next)
	m.health = next
}

// Len returns the number of registered sessions, regardless of health.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (m *managed) snapshot() Status {
	return Status{
		AccountID:    m.accountID,
		Handle:       m.handle,
		IsConnected:  m.health == HealthHealthy || m.health == HealthWarning,
		LastActivity: m.lastActivity,
		Health:       m.health,
	}
}
