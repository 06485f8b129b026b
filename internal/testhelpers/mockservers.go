package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Response is one scripted reply of the mock API server.
type Response struct {
	Status      int
	Body        string
	ContentType string
	// Delay is applied before the response is written.
	Delay time.Duration
	// Hang holds the request open until the client gives up.
	Hang bool
}

// JSON builds a scripted JSON response.
func JSON(status int, payload any) Response {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal JSON: %v", err))
	}

	return Response{
		Status:      status,
		Body:        string(data),
		ContentType: "application/json",
	}
}

// Text builds a scripted plain text response.
func Text(status int, body string) Response {
	return Response{
		Status:      status,
		Body:        body,
		ContentType: "text/plain; charset=utf-8",
	}
}

// RecordedRequest captures a request received by the mock API server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
	At     time.Time
}

// MockAPIServer is a configurable fake of the loyalty backend. Each route
// replays its scripted responses in order; the final response repeats.
// Unscripted routes return 404.
type MockAPIServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	routes   map[string][]Response
	requests []RecordedRequest
}

// SetupMockAPIServer creates a mock API server that is closed when the test
// completes.
func SetupMockAPIServer(t *testing.T) *MockAPIServer {
	t.Helper()

	mock := &MockAPIServer{
		routes: map[string][]Response{},
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.serve))
	t.Cleanup(mock.Close)

	return mock
}

// URL is the base URL of the server.
func (m *MockAPIServer) URL() string {
	return m.Server.URL
}

// Script sets the responses for method and path, replacing any existing
// script.
func (m *MockAPIServer) Script(method, path string, responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes[method+" "+path] = responses
}

// Requests returns all requests received so far.
func (m *MockAPIServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests received for method and path.
func (m *MockAPIServer) RequestCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, r := range m.requests {
		if r.Method == method && r.Path == path {
			count++
		}
	}
	return count
}

// Close shuts down the mock server.
func (m *MockAPIServer) Close() {
	m.Server.Close()
}

func (m *MockAPIServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   string(body),
		At:     time.Now(),
	})

	key := r.Method + " " + r.URL.Path
	script, ok := m.routes[key]
	var resp Response
	if ok && len(script) > 0 {
		resp = script[0]
		if len(script) > 1 {
			m.routes[key] = script[1:]
		}
	}
	m.mu.Unlock()

	if !ok || len(script) == 0 {
		http.NotFound(w, r)
		return
	}

	if resp.Hang {
		<-r.Context().Done()
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp.Body)
}
