package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/model"
)

// SessionState is the session store's published state. User is nil while
// signed out. Loading is true from startup or a sign-in attempt until the
// profile fetch settles. Err holds the last absorbed failure; it never
// escapes as a panic or a crash.
//
// A failed profile fetch degrades the session rather than ending it: User
// keeps the last identity the store knows (the loaded profile, or the
// identity from sign-in, or the token claims) with Err set, so a network
// blip never bounces a signed-in user back to the login page. Only a
// server-confirmed UNAUTHENTICATED ends the session.
type SessionState struct {
	User    *model.User
	Loading bool
	Err     error
}

// SignedIn reports whether a profile is loaded.
func (s SessionState) SignedIn() bool {
	return s.User != nil
}

type sessionCmd func(*SessionStore)

// SessionStore tracks the signed-in identity and its profile document.
// All state lives on a single goroutine; every mutation, including the
// result of every profile fetch, is applied by that goroutine in arrival
// order, so interleaved sign-in/sign-out transitions cannot corrupt the
// state. Fetch results carry the epoch they started under and are
// discarded if the session changed underneath them.
type SessionStore struct {
	api    *Client
	logger *slog.Logger

	cmds chan sessionCmd
	done chan struct{}

	// Owned by the run goroutine. identity is the last identity any
	// auth-time source vouched for; it backs the degraded state when a
	// profile fetch fails.
	state    SessionState
	identity *model.User
	epoch    uint64
	subs     map[uint64]func(SessionState)
	nextSub  uint64

	closeOnce sync.Once
}

// NewSessionStore creates the store and starts its actor goroutine. The
// store begins in the loading state until Init settles it.
func NewSessionStore(api *Client, logger *slog.Logger) *SessionStore {
	s := &SessionStore{
		api:    api,
		logger: logger,
		cmds:   make(chan sessionCmd, 16),
		done:   make(chan struct{}),
		state:  SessionState{Loading: true},
		subs:   make(map[uint64]func(SessionState)),
	}
	go s.run()
	return s
}

func (s *SessionStore) run() {
	for cmd := range s.cmds {
		cmd(s)
	}
	close(s.done)
}

// Close stops the actor. Pending commands are still applied.
func (s *SessionStore) Close() {
	s.closeOnce.Do(func() { close(s.cmds) })
	<-s.done
}

func (s *SessionStore) enqueue(cmd sessionCmd) {
	defer func() {
		// Commands after Close are dropped
		recover()
	}()
	s.cmds <- cmd
}

func (s *SessionStore) setState(st SessionState) {
	s.state = st
	for _, fn := range s.subs {
		fn(st)
	}
}

// State returns a snapshot of the current state.
func (s *SessionStore) State() SessionState {
	result := make(chan SessionState, 1)
	s.enqueue(func(s *SessionStore) {
		result <- s.state
	})
	select {
	case st := <-result:
		return st
	case <-s.done:
		return s.state
	}
}

// Subscribe registers fn to be called with every state change, starting
// with the current state. The returned function unsubscribes.
func (s *SessionStore) Subscribe(fn func(SessionState)) func() {
	idCh := make(chan uint64, 1)
	s.enqueue(func(s *SessionStore) {
		id := s.nextSub
		s.nextSub++
		s.subs[id] = fn
		fn(s.state)
		idCh <- id
	})
	var id uint64
	select {
	case id = <-idCh:
	case <-s.done:
		return func() {}
	}
	return func() {
		s.enqueue(func(s *SessionStore) {
			delete(s.subs, id)
		})
	}
}

// Init resolves the initial auth state: if the client carries a token,
// the profile is fetched; otherwise the store settles signed out.
func (s *SessionStore) Init(ctx context.Context) {
	s.enqueue(func(s *SessionStore) {
		token := s.api.Token()
		if token == "" {
			s.setState(SessionState{})
			return
		}
		if s.identity == nil {
			s.identity = identityFromToken(token)
		}
		s.startFetch(ctx)
	})
}

// identityFromToken recovers the uid and email baked into a bearer token,
// so a cold start against an unreachable server still has an identity to
// degrade to. The signature is not checked here; the server verifies it
// on every request it serves.
func identityFromToken(token string) *model.User {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	return &model.User{UID: claims.Subject, Email: claims.Email}
}

// basicIdentity copies a known identity with displayName falling back to
// the email address. A nil identity stays nil.
func basicIdentity(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	if c.DisplayName == "" {
		c.DisplayName = c.Email
	}
	return &c
}

// startFetch launches a profile fetch tagged with the current epoch. Runs
// on the actor goroutine; the fetch itself runs outside it and posts its
// result back as a command.
func (s *SessionStore) startFetch(ctx context.Context) {
	epoch := s.epoch
	s.setState(SessionState{User: s.state.User, Loading: true})

	go func() {
		user, err := s.api.Profile(ctx)
		s.enqueue(func(s *SessionStore) {
			if s.epoch != epoch {
				// Session changed while the fetch was in flight
				return
			}
			if err != nil {
				s.applyFetchFailure(err)
				return
			}
			s.identity = user
			s.setState(SessionState{User: user})
		})
	}()
}

// applyFetchFailure settles the state after a failed profile fetch. Runs
// on the actor goroutine. The server rejecting the token ends the
// session; anything else degrades to the last known identity. A missing
// profile document is not an error state, just a thinner one.
func (s *SessionStore) applyFetchFailure(err error) {
	known := s.state.User
	if known == nil {
		known = s.identity
	}

	switch ErrorCode(err) {
	case "UNAUTHENTICATED":
		s.logger.Warn("session rejected", "error", err)
		s.identity = nil
		s.setState(SessionState{Err: err})
	case "NOT_FOUND":
		s.logger.Warn("profile missing, using basic identity", "error", err)
		s.setState(SessionState{User: basicIdentity(known)})
	default:
		s.logger.Warn("profile fetch", "error", err)
		s.setState(SessionState{User: basicIdentity(known), Err: err})
	}
}

// SignUp registers a new account and loads its profile.
func (s *SessionStore) SignUp(ctx context.Context, email, password, displayName string) error {
	result := make(chan error, 1)
	s.enqueue(func(s *SessionStore) {
		s.epoch++
		s.setState(SessionState{Loading: true})
		epoch := s.epoch
		go func() {
			res, err := s.api.Register(ctx, email, password, displayName)
			s.enqueue(func(s *SessionStore) {
				result <- err
				if s.epoch != epoch {
					return
				}
				if err != nil {
					s.setState(SessionState{Err: err})
					return
				}
				s.identity = res.User
				s.startFetch(ctx)
			})
		}()
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn authenticates and loads the profile.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) error {
	result := make(chan error, 1)
	s.enqueue(func(s *SessionStore) {
		s.epoch++
		s.setState(SessionState{Loading: true})
		epoch := s.epoch
		go func() {
			res, err := s.api.Login(ctx, email, password)
			s.enqueue(func(s *SessionStore) {
				result <- err
				if s.epoch != epoch {
					return
				}
				if err != nil {
					s.setState(SessionState{Err: err})
					return
				}
				s.identity = res.User
				s.startFetch(ctx)
			})
		}()
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignOut revokes the session and settles signed out. Any in-flight
// profile fetch that completes afterward is discarded by the epoch
// check, so a stale fetch can never resurrect the old user.
func (s *SessionStore) SignOut(ctx context.Context) {
	s.enqueue(func(s *SessionStore) {
		s.epoch++
		s.identity = nil
		go func() {
			if err := s.api.Logout(ctx); err != nil {
				s.logger.Warn("logout", "error", err)
			}
		}()
		s.setState(SessionState{})
	})
}

// RefreshProfile refetches the profile, e.g. after the household setup
// flow changed householdId.
func (s *SessionStore) RefreshProfile(ctx context.Context) {
	s.enqueue(func(s *SessionStore) {
		if s.api.Token() == "" {
			return
		}
		s.startFetch(ctx)
	})
}
