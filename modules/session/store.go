package session

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/guarzo/qualityapi/common/model"
)

var (
	// ErrNoSession is returned by Token when nobody is signed in.
	ErrNoSession = errors.New("no active session")
	// ErrRoleRequired is returned by RequireRole when the signed-in profile lacks the role.
	ErrRoleRequired = errors.New("role required")
)

// Snapshot is an immutable copy of the session. The zero value is the signed-out shape.
type Snapshot struct {
	Token   *oauth2.Token
	Profile *model.Profile
}

// AccessToken returns the bearer credential, or "" when signed out.
func (s Snapshot) AccessToken() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// SignedIn reports whether the snapshot holds an access token.
func (s Snapshot) SignedIn() bool {
	return s.AccessToken() != ""
}

// Store is the process-wide session: access token plus profile.
// It is only mutated by login, successful renewal, and logout or renewal failure.
type Store struct {
	// wmu orders writes with their notifications, so listeners see snapshots in the
	// order they were stored.
	wmu     sync.Mutex
	mu      sync.RWMutex
	current Snapshot

	lmu       sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int
}

var _ oauth2.TokenSource = (*Store)(nil)

// NewStore returns an empty (signed-out) store.
func NewStore() *Store {
	return &Store{listeners: make(map[int]func(Snapshot))}
}

// Get returns the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	return Snapshot{Token: cloneToken(cur.Token), Profile: cloneProfile(cur.Profile)}
}

// Set replaces token and profile in one step and notifies subscribers.
func (s *Store) Set(token *oauth2.Token, profile *model.Profile) {
	snap := Snapshot{Token: cloneToken(token), Profile: cloneProfile(profile)}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	s.notify(snap)
}

// Clear wipes token and profile and notifies subscribers.
func (s *Store) Clear() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	s.current = Snapshot{}
	s.mu.Unlock()
	s.notify(Snapshot{})
}

// AccessToken returns the current bearer credential, or "".
func (s *Store) AccessToken() string {
	return s.Get().AccessToken()
}

// Profile returns a copy of the current profile, or nil when signed out.
func (s *Store) Profile() *model.Profile {
	return s.Get().Profile
}

func (s *Store) IsAuthenticated() bool {
	return s.Get().SignedIn()
}

func (s *Store) HasRole(role string) bool {
	return s.Get().Profile.HasRole(role)
}

// RequireRole fails fast when a signed-in user lacks role. A signed-out store passes: the
// server decides after renewal.
func (s *Store) RequireRole(role string) error {
	snap := s.Get()
	if !snap.SignedIn() || snap.Profile.HasRole(role) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRoleRequired, role)
}

// Token implements oauth2.TokenSource over the current session.
func (s *Store) Token() (*oauth2.Token, error) {
	snap := s.Get()
	if !snap.SignedIn() {
		return nil, ErrNoSession
	}
	return snap.Token, nil
}

// Subscribe registers fn to be called with every new snapshot, in write order. fn runs
// synchronously inside Set or Clear and must not call them. The returned func removes
// the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) notify(snap Snapshot) {
	s.lmu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func cloneToken(t *oauth2.Token) *oauth2.Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneProfile(p *model.Profile) *model.Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]string{}, p.Roles...)
	return &c
}
