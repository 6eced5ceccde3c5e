// Package registry tracks the live view sessions of a process, keeping at
// most one live session per presentation key.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/liveview/internal/session"
)

// Entry is a registered live view session.
type Entry struct {
	Key       string
	StartedAt time.Time
	Session   *session.Session
}

// Registry manages the lifecycle of active sessions.
type Registry struct {
	log     *slog.Logger
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates a new registry. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log.With("component", "registry"),
		entries: make(map[string]*Entry),
	}
}

// Create registers s under key. Returns the entry and true if registered,
// or nil and false if a live session already holds this key.
func (r *Registry) Create(key string, s *session.Session) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && e.Session.State() != session.StateClosed {
		r.log.Warn("session already live, rejecting duplicate", "key", key)
		return nil, false
	}

	e := &Entry{
		Key:       key,
		StartedAt: time.Now(),
		Session:   s,
	}
	r.entries[key] = e
	r.log.Info("session registered", "key", key)
	return e, true
}

// Remove closes and removes the session registered under key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok {
		e.Session.Close()
		r.log.Info("session removed", "key", key)
	}
}

// Get returns the entry for key.
func (r *Registry) Get(key string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// List returns all entries sorted by key.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll() {
	for _, e := range r.List() {
		r.Remove(e.Key)
	}
}
