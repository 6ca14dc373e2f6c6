// Package identity wraps an identity provider behind an explicit session
// lifecycle. Components receive the *Session they need instead of reading a
// package-level user.
package identity

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"genai_studio/logger"
)

// ErrNotSignedIn is returned by every operation that needs a user when none is signed in.
var ErrNotSignedIn = errors.New("not signed in")

// User is the opaque handle handed out by a provider.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Label is the most readable name available for the user.
func (u User) Label() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	default:
		return u.ID
	}
}

// Provider is the contract of an external identity provider.
type Provider interface {
	SignIn(ctx context.Context, hint string) (User, error)
	SignOut(ctx context.Context, user User) error
	// Token returns a short-lived bearer credential for user. Callers ask for
	// a new one per request.
	Token(ctx context.Context, user User) (string, error)
}

// Restorer is implemented by providers that can bring back a previous sign-in on bootstrap.
type Restorer interface {
	Restore(ctx context.Context) (User, bool, error)
}

// ChangeFunc observes sign-in and sign-out. prev or next is nil when there was (or is) no user.
type ChangeFunc func(prev, next *User)

// Session holds the current user for one client session.
type Session struct {
	provider Provider
	log      *logger.Logger

	mu        sync.RWMutex
	user      *User
	listeners map[int]ChangeFunc
	nextID    int
	closed    bool
}

// NewSession creates a session bound to provider. Call Init before use.
func NewSession(provider Provider, log *logger.Logger) *Session {
	return &Session{
		provider:  provider,
		log:       logger.OrNop(log).Named("identity"),
		listeners: make(map[int]ChangeFunc),
	}
}

// Init bootstraps the provider and restores a remembered user if it has one.
func (s *Session) Init(ctx context.Context) error {
	if s.provider == nil {
		return errors.New("identity provider is required")
	}
	r, ok := s.provider.(Restorer)
	if !ok {
		return nil
	}
	u, found, err := r.Restore(ctx)
	if err != nil {
		return err
	}
	if found {
		s.set(&u)
	}
	return nil
}

// SignIn signs a user in through the provider. Signing in while another user
// is active replaces that user and notifies listeners once.
func (s *Session) SignIn(ctx context.Context, hint string) (User, error) {
	u, err := s.provider.SignIn(ctx, hint)
	if err != nil {
		return User{}, err
	}
	s.set(&u)
	s.log.Info("signed in", zap.String("user_id", u.ID))
	return u, nil
}

// SignOut signs the current user out. It is a no-op without a user.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.RLock()
	cur := s.user
	s.mu.RUnlock()
	if cur == nil {
		return nil
	}
	if err := s.provider.SignOut(ctx, *cur); err != nil {
		return err
	}
	s.set(nil)
	s.log.Info("signed out", zap.String("user_id", cur.ID))
	return nil
}

// Current returns the signed-in user.
func (s *Session) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Token asks the provider for a fresh credential. Nothing is cached.
func (s *Session) Token(ctx context.Context) (string, error) {
	u, ok := s.Current()
	if !ok {
		return "", ErrNotSignedIn
	}
	return s.provider.Token(ctx, u)
}

// OnChange registers fn and returns a function removing it.
func (s *Session) OnChange(fn ChangeFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close signs out and drops all listeners.
func (s *Session) Close(ctx context.Context) error {
	err := s.SignOut(ctx)
	s.mu.Lock()
	s.closed = true
	s.listeners = make(map[int]ChangeFunc)
	s.mu.Unlock()
	return err
}

func (s *Session) set(next *User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.user
	s.user = next
	fns := make([]ChangeFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(prev, next)
	}
}
