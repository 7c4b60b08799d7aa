package auth

import (
	"context"
	"fmt"
	"sync"
)

// StateListener is called with the new session after a sign-in, or with nil
// after a sign-out
type StateListener func(session *Session)

// Client holds the current session of one application and notifies
// listeners when it changes
type Client struct {
	provider GoogleSignIn

	mu        sync.Mutex
	current   *Session
	listeners map[uint64]StateListener
	order     []uint64
	nextID    uint64

	// dispatch serializes notifications so listeners observe transitions in
	// the order they happened
	dispatch sync.Mutex
}

// NewClient creates a signed-out Client
func NewClient(provider GoogleSignIn) *Client {
	return &Client{
		provider:  provider,
		listeners: make(map[uint64]StateListener),
	}
}

// SignInWithGoogle signs in with a Google ID token and makes the result the
// current session. On failure the current session is left unchanged.
func (c *Client) SignInWithGoogle(ctx context.Context, googleIDToken string) (*Session, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("no sign-in provider configured")
	}

	session, err := c.provider.SignInWithGoogle(ctx, googleIDToken)
	if err != nil {
		return nil, err
	}

	c.setSession(session)
	return session.Copy(), nil
}

// CanSignIn reports whether a sign-in provider is configured
func (c *Client) CanSignIn() bool {
	return c.provider != nil
}

// SignOut clears the current session
func (c *Client) SignOut() {
	c.setSession(nil)
}

// CurrentSession returns the signed-in session or nil
func (c *Client) CurrentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Copy()
}

// OnAuthStateChanged registers fn for every session transition: signed-out
// to signed-in, signed-in to signed-out, or a change of user. A token
// refresh for the same user is not a transition. The returned function
// removes fn and may be called any number of times, also from inside fn.
//
// Listeners run synchronously on the goroutine that caused the transition
// and must not call SignInWithGoogle or SignOut themselves.
func (c *Client) OnAuthStateChanged(fn StateListener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners, id)
			for i, v := range c.order {
				if v == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Client) setSession(next *Session) {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	c.mu.Lock()
	prev := c.current
	c.current = next.Copy()
	if !isTransition(prev, next) {
		c.mu.Unlock()
		return
	}
	ids := append([]uint64(nil), c.order...)
	c.mu.Unlock()

	for _, id := range ids {
		c.mu.Lock()
		fn, ok := c.listeners[id]
		c.mu.Unlock()
		if ok {
			fn(next.Copy())
		}
	}
}

func isTransition(prev, next *Session) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.UID != next.UID
}
