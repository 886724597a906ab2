package google

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// ExchangeFunc performs the code-for-token network exchange.
type ExchangeFunc func(ctx context.Context, code string) (*oauth2.Token, error)

// AuthorizationError is a recoverable authorization failure: the user
// denied consent, the provider reported an error, or the code exchange
// failed. The sync loop skips the cycle and retries on the next one.
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// PendingAuthorization is a suspended authorization request waiting
// for the browser redirect to supply a code. The done channel is the
// fulfill/reject pair: it is resolved exactly once, by whoever
// consumes the registry entry, and any number of callers may wait on
// the same attempt.
type PendingAuthorization struct {
	exchange ExchangeFunc
	done     chan struct{}
	token    *oauth2.Token
	err      error
}

// NewPendingAuthorization creates a pending authorization around the
// given exchange function.
func NewPendingAuthorization(exchange ExchangeFunc) *PendingAuthorization {
	return &PendingAuthorization{
		exchange: exchange,
		done:     make(chan struct{}),
	}
}

// Wait blocks until the authorization is resolved or ctx is done.
// The wait is unbounded in wall-clock time: the user has to act in a
// browser, and nothing else is held up while we sit here.
func (p *PendingAuthorization) Wait(ctx context.Context) (*oauth2.Token, error) {
	select {
	case <-p.done:
		return p.token, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingAuthorization) fulfill(tok *oauth2.Token) {
	p.token = tok
	close(p.done)
}

func (p *PendingAuthorization) reject(err error) {
	p.err = err
	close(p.done)
}

// HandoffRegistry decouples the component that needs authorization
// (the session manager, inside the sync loop) from the component that
// receives the browser redirect (the HTTP listener). Entries are keyed
// by callback path; at most one entry is live per key, and an entry is
// consumed exactly once.
type HandoffRegistry struct {
	mu      sync.Mutex
	pending map[string]*PendingAuthorization
}

// NewHandoffRegistry creates an empty registry.
func NewHandoffRegistry() *HandoffRegistry {
	return &HandoffRegistry{
		pending: make(map[string]*PendingAuthorization),
	}
}

// Register stores the pending authorization under key, replacing any
// stale entry for the same key.
func (r *HandoffRegistry) Register(key string, p *PendingAuthorization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = p
}

// Lookup reports whether a live entry exists for key. The HTTP layer
// uses this to decide whether an inbound request is an OAuth callback.
func (r *HandoffRegistry) Lookup(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Consume resolves the pending authorization for key. The entry is
// removed before any continuation runs, so a second Consume for the
// same key finds no waiter and returns false.
//
// With errParam set the waiter is rejected. Otherwise the exchange
// function is invoked with code; its outcome fulfills or rejects the
// waiter. The returned error mirrors what the waiter saw, for the
// HTTP response.
func (r *HandoffRegistry) Consume(ctx context.Context, key, code, errParam string) (bool, error) {
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}

	if errParam != "" {
		err := &AuthorizationError{Reason: fmt.Sprintf("provider returned %q", errParam)}
		p.reject(err)
		return true, err
	}

	tok, err := p.exchange(ctx, code)
	if err != nil {
		aerr := &AuthorizationError{Reason: "code exchange failed", Err: err}
		p.reject(aerr)
		return true, aerr
	}

	p.fulfill(tok)
	return true, nil
}
