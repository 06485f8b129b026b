// Package devserver is a small in-memory fake of the loyalty backend, used
// to exercise the client by hand.
package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownToken  = errors.New("token not recognised")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenRedeemed = errors.New("token already redeemed")
)

type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points,omitempty"`
}

type issuedToken struct {
	customerID string
	expiresAt  time.Time
	redeemed   bool
}

// Backend holds the state served by the fake API.
type Backend struct {
	mu     sync.Mutex
	items  []Item
	tokens map[string]*issuedToken
	ttl    time.Duration
	now    func() time.Time
	reward string
}

type BackendOption func(*Backend)

func WithClock(now func() time.Time) BackendOption {
	return func(b *Backend) {
		b.now = now
	}
}

func WithItems(items ...Item) BackendOption {
	return func(b *Backend) {
		b.items = append(b.items, items...)
	}
}

func NewBackend(tokenTTL time.Duration, opts ...BackendOption) *Backend {
	b := &Backend{
		tokens: map[string]*issuedToken{},
		ttl:    tokenTTL,
		now:    time.Now,
		reward: "free-coffee",
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]Item, len(b.items))
	copy(items, b.items)
	return items
}

func (b *Backend) AddItem(name string, points int) Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	item := Item{ID: uuid.NewString(), Name: name, Points: points}
	b.items = append(b.items, item)
	return item
}

// Issue creates a single-use token for the customer.
func (b *Backend) Issue(customerID string) (string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value := uuid.NewString()
	expiresAt := b.now().Add(b.ttl).UTC()
	b.tokens[value] = &issuedToken{customerID: customerID, expiresAt: expiresAt}

	return value, expiresAt
}

// Redeem marks the token used and returns the customer it was issued to.
func (b *Backend) Redeem(value string) (customerID string, reward string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.tokens[value]
	switch {
	case !ok:
		return "", "", ErrUnknownToken
	case tok.redeemed:
		return "", "", ErrTokenRedeemed
	case !b.now().Before(tok.expiresAt):
		return "", "", ErrTokenExpired
	}

	tok.redeemed = true
	return tok.customerID, b.reward, nil
}
