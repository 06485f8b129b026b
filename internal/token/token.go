// Package token manages the short-lived QR token a customer presents to a
// partner store, and the partner-side validation of scanned tokens.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/kv"
	"github.com/perkline/perkline/internal/request"
	"github.com/rs/zerolog/log"
)

// FallbackPrefix marks tokens synthesized locally when issuance is denied.
const FallbackPrefix = "fallback-"

// State is the lifecycle phase of the managed token.
type State int

const (
	StateNoToken State = iota
	StateIssuing
	StateValid
	StateExpiring
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateIssuing:
		return "issuing"
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	case StateRevoked:
		return "revoked"
	default:
		return "no_token"
	}
}

// Token is a QR token and its expiry. Fallback tokens were synthesized
// locally and are not recognised by the backend as authoritative.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Fallback  bool      `json:"fallback,omitempty"`
}

// Reusable reports whether more than margin remains before expiry.
func (t Token) Reusable(now time.Time, margin time.Duration) bool {
	return t.Value != "" && t.ExpiresAt.Sub(now) > margin
}

// issueResponse accepts either an absolute expiry or a lifetime in seconds.
type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int       `json:"expiresIn"`
}

// Manager issues, reuses and persists the customer's QR token. Calls are
// serialized so that at most one issuance is in flight.
type Manager struct {
	doer  request.Doer
	store kv.Store
	cfg   config.TokenConfig

	now     func() time.Time
	newID   func() string
	onState func(State)

	mu    sync.Mutex
	state State
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator replaces the generator of fallback token identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		m.newID = gen
	}
}

// WithStateFunc observes every lifecycle transition.
func WithStateFunc(fn func(State)) Option {
	return func(m *Manager) {
		m.onState = fn
	}
}

// NewManager creates a manager that issues tokens through doer and persists
// them in store.
func NewManager(doer request.Doer, store kv.Store, cfg config.TokenConfig, opts ...Option) *Manager {
	m := &Manager{
		doer:  doer,
		store: store,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Get returns the persisted token while it has more than the reuse margin
// left, and issues a new one otherwise.
func (m *Manager) Get(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, found := m.load(ctx)
	if found && tok.Reusable(m.now(), m.cfg.ReuseMargin) {
		m.transition(StateValid)
		return tok, nil
	}

	if found {
		m.transition(StateExpiring)
	}

	return m.issue(ctx)
}

// Refresh issues a new token regardless of the persisted one.
func (m *Manager) Refresh(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.issue(ctx)
}

// Revoke removes the persisted token, as on sign-out.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Remove(ctx, m.cfg.StorageKey); err != nil {
		return fmt.Errorf("token removal failed: %w", err)
	}

	m.transition(StateRevoked)
	return nil
}

func (m *Manager) issue(ctx context.Context) (Token, error) {
	previous := m.state
	m.transition(StateIssuing)

	ctx, entry := audit.Context(ctx)
	entry.Begin(http.MethodPost, m.cfg.IssueEndpoint)
	defer entry.End(ctx)()

	body, err := m.doer.Execute(ctx, request.Descriptor{
		Method:   http.MethodPost,
		Endpoint: m.cfg.IssueEndpoint,
	})
	if errors.Is(err, apierror.ErrForbidden) {
		return m.fallback(ctx, entry), nil
	}

	var tok Token
	if err == nil {
		tok, err = m.decode(body)
	}

	if err != nil {
		entry.Fail(err)
		if previous == StateExpiring {
			m.transition(StateExpiring)
		} else {
			m.transition(StateNoToken)
		}
		return Token{}, err
	}

	m.persist(ctx, tok)
	m.transition(StateValid)

	entry.TokenState = StateValid.String()
	entry.TokenExpiry = tok.ExpiresAt

	return tok, nil
}

// fallback synthesizes a short-lived token so that the QR feature stays
// usable when the backend denies issuance.
func (m *Manager) fallback(ctx context.Context, entry *audit.Entry) Token {
	tok := Token{
		Value:     FallbackPrefix + m.newID(),
		ExpiresAt: m.now().Add(m.cfg.FallbackValidity),
		Fallback:  true,
	}

	log.Ctx(ctx).Warn().
		Time("expires_at", tok.ExpiresAt).
		Msg("token issuance denied, using local fallback token")

	m.persist(ctx, tok)
	m.transition(StateValid)

	entry.TokenState = StateValid.String()
	entry.TokenFallback = true
	entry.TokenExpiry = tok.ExpiresAt

	return tok
}

func (m *Manager) decode(body request.Body) (Token, error) {
	var resp issueResponse
	if err := body.Decode(&resp); err != nil {
		return Token{}, err
	}

	if resp.Token == "" {
		return Token{}, apierror.Parse(errors.New("issued token is empty"))
	}

	expires := resp.ExpiresAt
	if expires.IsZero() {
		if resp.ExpiresIn <= 0 {
			return Token{}, apierror.Parse(errors.New("issued token has no expiry"))
		}
		expires = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	return Token{Value: resp.Token, ExpiresAt: expires}, nil
}

// load reads the persisted token. Unreadable state is treated as absent.
func (m *Manager) load(ctx context.Context) (Token, bool) {
	raw, found, err := m.store.Get(ctx, m.cfg.StorageKey)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("persisted token could not be read")
		return Token{}, false
	}
	if !found {
		return Token{}, false
	}

	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("persisted token is corrupt, ignoring")
		return Token{}, false
	}

	return tok, true
}

// persist stores tok. A failure is logged: the token remains usable for
// this process.
func (m *Manager) persist(ctx context.Context, tok Token) {
	data, err := json.Marshal(tok)
	if err == nil {
		err = m.store.Set(ctx, m.cfg.StorageKey, string(data))
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("token could not be persisted")
	}
}

func (m *Manager) transition(s State) {
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}
