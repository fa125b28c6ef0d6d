package client

import (
	"context"
	"sync"
)

// GuardResult is a routing decision for a protected page.
type GuardResult int

const (
	// Proceed lets the navigation through.
	Proceed GuardResult = iota
	// RedirectLogin sends the visitor to the sign-in page.
	RedirectLogin
	// RedirectSetup sends a signed-in user without a household to the
	// setup flow.
	RedirectSetup
)

// Decide maps a settled session state to a routing decision. ok is false
// while the session is still loading; callers must not route on an
// unsettled state.
func Decide(st SessionState) (GuardResult, bool) {
	if st.Loading {
		return 0, false
	}
	if !st.SignedIn() {
		return RedirectLogin, true
	}
	if st.User.HouseholdID == nil {
		return RedirectSetup, true
	}
	return Proceed, true
}

// Wait blocks until the session settles and returns the decision for its
// first settled state. The subscription is dropped as soon as that state
// arrives; later session changes do not re-trigger the guard.
func Wait(ctx context.Context, store *SessionStore) (GuardResult, error) {
	ch := make(chan GuardResult, 1)
	var once sync.Once

	unsub := store.Subscribe(func(st SessionState) {
		if res, ok := Decide(st); ok {
			once.Do(func() { ch <- res })
		}
	})
	defer unsub()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return RedirectLogin, ctx.Err()
	}
}
