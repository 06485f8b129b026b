package query

import (
	"sync"
	"sync/atomic"

	"github.com/perkline/perkline/internal/request"
)

// Status is the phase of a query or mutation.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// State is what a caller renders. Message is the translated form of Err.
// Data keeps the last successful value while a later fetch is loading or
// has failed.
type State[T any] struct {
	Status  Status
	Data    T
	Err     error
	Message string
}

func (s State[T]) Loading() bool {
	return s.Status == StatusLoading
}

// StateFunc observes every state transition.
type StateFunc[T any] func(State[T])

// machine holds state shared by queries and mutations. Once closed, it
// drops all transitions.
type machine[T any] struct {
	mu      sync.Mutex
	state   State[T]
	onState StateFunc[T]
	closed  atomic.Bool
}

func (m *machine[T]) current() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine[T]) alive() bool {
	return !m.closed.Load()
}

// update applies fn to a copy of the state and publishes the result. It
// reports false, changing nothing, once the machine is closed.
func (m *machine[T]) update(fn func(*State[T])) bool {
	if !m.alive() {
		return false
	}

	m.mu.Lock()
	next := m.state
	fn(&next)
	m.state = next
	m.mu.Unlock()

	if m.onState != nil {
		m.onState(next)
	}

	return true
}

func (m *machine[T]) close() {
	m.closed.Store(true)
}

// decode turns a response body into T. Empty bodies decode to the zero
// value, and a request.Body target receives the body unchanged.
func decode[T any](body request.Body) (T, error) {
	var v T

	if target, ok := any(&v).(*request.Body); ok {
		*target = body
		return v, nil
	}

	if body.Kind == request.KindEmpty {
		return v, nil
	}

	err := body.Decode(&v)
	return v, err
}
