package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/mailferry/internal/instrumentation"
	"github.com/teemow/mailferry/internal/logging"
)

// State is the authorization state of the Gmail credential.
type State int

// Authorization states. There is exactly one live state per run.
const (
	StateNoToken State = iota
	StateRefreshPending
	StateAwaitingAuthorization
	StateAuthorized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no-token"
	case StateRefreshPending:
		return "refresh-pending"
	case StateAwaitingAuthorization:
		return "awaiting-authorization"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// tokenExpiryHorizon is how close to expiry an access token may get
// before we refresh it instead of using it.
const tokenExpiryHorizon = 60 * time.Second

// SessionManager produces an authorized HTTP client on demand, hiding
// token acquisition, refresh and first-time user authorization. Only
// one authorization attempt runs at a time; a second caller observing
// a pending attempt joins it instead of generating a new URL.
type SessionManager struct {
	conf         *oauth2.Config
	store        *TokenStore
	registry     *HandoffRegistry
	callbackPath string
	logger       *slog.Logger
	metrics      *instrumentation.Metrics

	mu      sync.Mutex
	state   State
	token   *oauth2.Token
	authURL string
	pending *PendingAuthorization
	loaded  bool
}

// NewSessionManager creates a session manager. callbackPath is the
// registry key and the path of conf.RedirectURL.
func NewSessionManager(conf *oauth2.Config, store *TokenStore, registry *HandoffRegistry, callbackPath string, logger *slog.Logger, metrics *instrumentation.Metrics) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		conf:         conf,
		store:        store,
		registry:     registry,
		callbackPath: callbackPath,
		logger:       logging.WithOperation(logger, "oauth"),
		metrics:      metrics,
	}
}

// State returns the current authorization state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AuthURL returns the authorization URL of the pending attempt, or ""
// when no authorization is awaited. The status page renders this as a
// clickable link.
func (m *SessionManager) AuthURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAwaitingAuthorization {
		return ""
	}
	return m.authURL
}

// CallbackPath returns the registry key the manager registers under.
func (m *SessionManager) CallbackPath() string {
	return m.callbackPath
}

// Client returns an HTTP client carrying a valid access token. It may
// block for an arbitrary time while waiting for the user to authorize
// in a browser; cancel ctx to abandon the wait.
func (m *SessionManager) Client(ctx context.Context) (*http.Client, error) {
	tok, err := m.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok)), nil
}

// ensureToken drives the state machine until a usable token exists.
func (m *SessionManager) ensureToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()

	// Join an in-flight interactive attempt instead of starting a
	// second one.
	if m.state == StateAwaitingAuthorization && m.pending != nil {
		p := m.pending
		m.mu.Unlock()
		return m.awaitAuthorization(ctx, p)
	}

	if !m.loaded {
		m.loaded = true
		tok, err := m.store.Load()
		if err != nil {
			m.logger.Warn("stored token unreadable, re-authorization required", logging.Err(err))
		} else if tok != nil {
			m.token = tok
		}
	}

	now := time.Now()
	if m.token != nil && m.token.AccessToken != "" &&
		(m.token.Expiry.IsZero() || m.token.Expiry.After(now.Add(tokenExpiryHorizon))) {
		m.state = StateAuthorized
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}

	if m.token != nil && m.token.RefreshToken != "" {
		m.state = StateRefreshPending
		refreshToken := m.token.RefreshToken
		m.mu.Unlock()

		fresh, err := m.refresh(ctx, refreshToken)
		if err == nil {
			m.mu.Lock()
			m.token = fresh
			m.state = StateAuthorized
			m.mu.Unlock()
			return fresh, nil
		}

		// An unrecoverable refresh failure (revoked consent) would
		// loop forever if retried silently; force re-consent instead.
		m.logger.Warn("token refresh failed, forcing re-consent", logging.Err(err))
		m.mu.Lock()
	}

	return m.beginAuthorization(ctx)
}

// beginAuthorization starts the interactive flow. Called with the lock
// held; releases it before waiting.
func (m *SessionManager) beginAuthorization(ctx context.Context) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	url := m.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
	p := NewPendingAuthorization(m.exchange)
	m.registry.Register(m.callbackPath, p)
	m.pending = p
	m.authURL = url
	m.state = StateAwaitingAuthorization
	m.mu.Unlock()

	m.logger.Info("user authorization required, visit the status page or the URL below",
		slog.String("auth_url", url))

	return m.awaitAuthorization(ctx, p)
}

func (m *SessionManager) awaitAuthorization(ctx context.Context, p *PendingAuthorization) (*oauth2.Token, error) {
	tok, err := p.Wait(ctx)

	m.mu.Lock()
	if m.pending == p {
		m.pending = nil
		m.authURL = ""
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown or abandoned wait, not a provider failure. An
			// unconsumed registry entry stays behind until the next
			// attempt overwrites it.
			m.state = StateNoToken
		} else {
			m.state = StateFailed
		}
		m.mu.Unlock()
		return nil, err
	}
	m.token = tok
	m.state = StateAuthorized
	m.mu.Unlock()

	m.logger.Info("authorization complete", logging.Status(logging.StatusSuccess))
	return tok, nil
}

// exchange is the ExchangeFunc handed to the registry: it runs the
// code-for-token exchange and persists the pair before the waiter gets
// to use it, so a crash after acquisition never loses the ability to
// re-authorize silently.
func (m *SessionManager) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.conf.Exchange(ctx, code)
	m.metrics.RecordCodeExchange(ctx, err)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken != "" {
		if err := m.store.Save(tok); err != nil {
			m.logger.Warn("persisting token failed", logging.Err(err))
		}
	}
	return tok, nil
}

// refresh exchanges the refresh token for a fresh access token.
func (m *SessionManager) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	fresh, err := src.Token()
	m.metrics.RecordTokenRefresh(ctx, err)
	if err != nil {
		return nil, err
	}
	// Google usually omits the refresh token from refresh responses.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}
	if err := m.store.Save(fresh); err != nil {
		m.logger.Warn("persisting refreshed token failed", logging.Err(err))
	}
	return fresh, nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
