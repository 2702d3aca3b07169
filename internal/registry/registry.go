// Package registry tracks the identified tray-client sessions currently
// connected to the server. It is the source of truth for who is reachable
// right now; nothing in it survives a restart.
package registry

import (
	"strings"
	"sync"
)

// Session is one identified websocket connection.
type Session struct {
	ID      string // opaque transport handle
	User    string // case-insensitive match key
	Machine string // case-insensitive match key
}

// Registry is a mutex-guarded session table. Snapshot returns a
// point-in-time copy so callers never iterate a mutating set.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register inserts or replaces the identity for a session.
func (r *Registry) Register(id, user, machine string) {
	r.mu.Lock()
	r.sessions[id] = Session{ID: id, User: user, Machine: machine}
	r.mu.Unlock()
}

// Unregister removes the session and returns it if it was present.
func (r *Registry) Unregister(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// FindByUser returns the first session whose user name equals name,
// case-insensitively. By convention a user has at most one live session.
func (r *Registry) FindByUser(name string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if strings.EqualFold(s.User, name) {
			return s, true
		}
	}
	return Session{}, false
}

// Snapshot returns a copy of all current sessions.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
