package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/credential"
	"github.com/rs/zerolog/log"
)

type sessionKey struct{}

// SessionFromContext returns the session set by the auth middleware.
func SessionFromContext(ctx context.Context) (credential.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(credential.Session)
	return s, ok
}

// authenticate requires a bearer token whose claims name a user. Signatures
// are not checked: this is a development server.
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			drainRequestBody(r)
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		session, err := credential.ParseSession(raw)
		if err != nil || session.UserID == "" {
			log.Info().Err(err).Msg("rejected access token")
			drainRequestBody(r)
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		audit.Log(r.Context()).Authenticated = true

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// injectFaults delays each request by latency, then fails a fraction of
// them with 503 according to rate.
func injectFaults(latency time.Duration, rate float64, roll func() float64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if latency > 0 {
				select {
				case <-time.After(latency):
				case <-r.Context().Done():
					return
				}
			}

			if rate > 0 && roll() < rate {
				drainRequestBody(r)
				writeJSONError(w, http.StatusServiceUnavailable, "injected failure")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func defaultRoll() float64 {
	return rand.Float64()
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// the status is already written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

func readJSON(r *http.Request, target any) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if errors.Is(err, io.EOF) {
		return errors.New("request body is empty")
	}
	return err
}

// drainRequestBody consumes what is left of the body so the connection can
// be reused.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
