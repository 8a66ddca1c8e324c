package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry owns the live sessions, keyed by id.
type Registry struct {
	mu       sync.RWMutex
	ctx      context.Context
	sessions map[string]*Session
	newID    func() string
	log      *slog.Logger
}

// NewRegistry returns an empty registry. ctx bounds every session it creates.
func NewRegistry(ctx context.Context, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		ctx:      ctx,
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
		log:      log,
	}
}

// Create builds and starts a session. Nothing is registered when Start fails.
func (r *Registry) Create(opts Options) (*Session, error) {
	if opts.Log == nil {
		opts.Log = r.log
	}
	s := New(r.ctx, r.newID(), opts)
	if err := s.Start(); err != nil {
		s.Stop()
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.log.Info("session created", "session", s.ID, "source", opts.Source.String())
	return s, nil
}

// Get returns a live session. A session that stopped itself after repeated
// failures is dropped here and reported as not found.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !s.Running() {
		r.remove(id, s)
		return nil, ErrNotFound
	}
	return s, nil
}

// Close stops and removes a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Stop()
	r.log.Info("session closed", "session", id)
	return nil
}

func (r *Registry) remove(id string, s *Session) {
	r.mu.Lock()
	if r.sessions[id] == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	s.Stop()
}

// List returns snapshots of every registered session ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll stops every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
}
