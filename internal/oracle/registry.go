package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/casedesk/pkg/logger"
	"github.com/charlesng35/casedesk/pkg/metrics"
)

// Identity is the authenticated principal behind a session oracle.
type Identity struct {
	SessionID string
	UserID    string
	Email     string
	RoleID    string
	RoleName  string
}

// Factory builds the oracle for a new session.
type Factory func(identity Identity) (*Oracle, error)

// Session pairs an identity with its oracle.
type Session struct {
	Oracle *Oracle

	mu       sync.RWMutex
	identity Identity
	opened   time.Time
}

// Identity returns the current identity of the session.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// OpenedAt reports when the session oracle was created.
func (s *Session) OpenedAt() time.Time {
	return s.opened
}

func (s *Session) setRole(roleID, roleName string) {
	s.mu.Lock()
	s.identity.RoleID = roleID
	s.identity.RoleName = roleName
	s.mu.Unlock()
}

// Registry owns one oracle per authenticated session: created at login,
// disposed at logout or when idle for too long.
type Registry struct {
	factory Factory
	now     func() time.Time
	log     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	ensuring singleflight.Group
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock used for session bookkeeping.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(factory Factory, opts ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("oracle registry: factory is required")
	}
	r := &Registry{
		factory:  factory,
		now:      time.Now,
		log:      logger.WithModule("oracle.registry"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Open creates and starts the oracle for a session, replacing any previous one.
func (r *Registry) Open(identity Identity) (*Session, error) {
	session, err := r.build(identity)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	previous := r.sessions[session.identity.SessionID]
	r.sessions[session.identity.SessionID] = session
	count := len(r.sessions)
	r.mu.Unlock()

	if previous != nil {
		previous.Oracle.Dispose()
	}
	r.opened(session, count)
	return session, nil
}

func (r *Registry) build(identity Identity) (*Session, error) {
	identity.SessionID = strings.TrimSpace(identity.SessionID)
	if identity.SessionID == "" {
		return nil, errors.New("oracle registry: session id is required")
	}

	o, err := r.factory(identity)
	if err != nil {
		return nil, err
	}
	if err := o.Start(); err != nil {
		o.Dispose()
		return nil, err
	}
	return &Session{Oracle: o, identity: identity, opened: r.now()}, nil
}

func (r *Registry) opened(session *Session, count int) {
	metrics.ActiveOracles.Set(float64(count))
	r.log.Debug("session oracle opened",
		zap.String("session_id", session.identity.SessionID),
		zap.String("user_id", session.identity.UserID))
}

// Get returns the live session for sessionID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Ensure returns the session for identity.SessionID, opening one when the
// process has none yet (for example after a restart with a still valid token).
// Concurrent calls for one session share a single open and never replace a
// live oracle.
func (r *Registry) Ensure(identity Identity) (*Session, error) {
	sessionID := strings.TrimSpace(identity.SessionID)
	if s, ok := r.Get(sessionID); ok {
		return s, nil
	}

	v, err, _ := r.ensuring.Do(sessionID, func() (any, error) {
		if s, ok := r.Get(sessionID); ok {
			return s, nil
		}
		session, err := r.build(identity)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if existing, ok := r.sessions[sessionID]; ok {
			r.mu.Unlock()
			session.Oracle.Dispose()
			return existing, nil
		}
		r.sessions[sessionID] = session
		count := len(r.sessions)
		r.mu.Unlock()

		r.opened(session, count)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Close disposes the oracle of one session. It reports whether one existed.
func (r *Registry) Close(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		s.Oracle.Dispose()
		metrics.ActiveOracles.Set(float64(count))
	}
	return ok
}

// CloseUser disposes every session oracle of a user and returns how many were closed.
func (r *Registry) CloseUser(userID string) int {
	return r.closeWhere(func(id Identity) bool { return id.UserID == userID })
}

// RefreshUser refreshes every oracle of a user.
func (r *Registry) RefreshUser(ctx context.Context, userID string) error {
	return r.refreshWhere(ctx, func(id Identity) bool { return id.UserID == userID })
}

// RefreshRole refreshes every oracle whose identity holds roleID.
func (r *Registry) RefreshRole(ctx context.Context, roleID string) error {
	return r.refreshWhere(ctx, func(id Identity) bool { return id.RoleID == roleID })
}

// RefreshAll refreshes every live oracle.
func (r *Registry) RefreshAll(ctx context.Context) error {
	return r.refreshWhere(ctx, func(Identity) bool { return true })
}

// UpdateRole records a user's new role on all of their sessions.
func (r *Registry) UpdateRole(userID, roleID, roleName string) {
	for _, s := range r.matching(func(id Identity) bool { return id.UserID == userID }) {
		s.setRole(roleID, roleName)
	}
}

// PruneIdle disposes sessions whose oracle has not been queried within maxIdle.
func (r *Registry) PruneIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-maxIdle)

	r.mu.RLock()
	var idle []string
	for id, s := range r.sessions {
		if s.Oracle.LastUsed().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range idle {
		if r.Close(id) {
			closed++
		}
	}
	return closed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown disposes every oracle.
func (r *Registry) Shutdown() {
	r.closeWhere(func(Identity) bool { return true })
}

func (r *Registry) matching(match func(Identity) bool) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if match(s.Identity()) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) closeWhere(match func(Identity) bool) int {
	r.mu.Lock()
	var closed []*Session
	for id, s := range r.sessions {
		if match(s.Identity()) {
			closed = append(closed, s)
			delete(r.sessions, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for _, s := range closed {
		s.Oracle.Dispose()
	}
	metrics.ActiveOracles.Set(float64(count))
	return len(closed)
}

func (r *Registry) refreshWhere(ctx context.Context, match func(Identity) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.matching(match) {
		g.Go(func() error {
			err := s.Oracle.Refresh(gctx)
			if errors.Is(err, ErrDisposed) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
