package devserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type itemsResponse struct {
	Items []Item `json:"items"`
}

type newItemRequest struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type validateRequest struct {
	Token     string `json:"token"`
	PartnerID string `json:"partnerId"`
	StoreID   string `json:"storeId"`
}

type validateResponse struct {
	Valid      bool   `json:"valid"`
	CustomerID string `json:"customerId"`
	Reward     string `json:"reward"`
}

func handleListItems(b *Backend) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, itemsResponse{Items: b.Items()})
	})
}

func handleCreateItem(b *Backend) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req newItemRequest
		if err := readJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeJSONError(w, http.StatusBadRequest, "name is required")
			return
		}

		writeJSON(w, http.StatusCreated, b.AddItem(name, req.Points))
	})
}

func handleIssueToken(b *Backend, deny bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if deny {
			writeJSONError(w, http.StatusForbidden, "token issuance is not available")
			return
		}

		session, _ := SessionFromContext(r.Context())
		value, expiresAt := b.Issue(session.UserID)

		log.Info().Str("customer", session.UserID).Time("expires_at", expiresAt).Msg("issued token")

		writeJSON(w, http.StatusCreated, issueResponse{Token: value, ExpiresAt: expiresAt})
	})
}

func handleValidateToken(b *Backend) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req validateRequest
		if err := readJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if req.Token == "" || req.PartnerID == "" || req.StoreID == "" {
			writeJSONError(w, http.StatusBadRequest, "token, partnerId and storeId are required")
			return
		}

		customerID, reward, err := b.Redeem(req.Token)
		if err != nil {
			log.Info().Err(err).Str("partner", req.PartnerID).Str("store", req.StoreID).Msg("token rejected")
			writeJSONError(w, redeemStatus(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, validateResponse{
			Valid:      true,
			CustomerID: customerID,
			Reward:     reward,
		})
	})
}

func redeemStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, ErrTokenRedeemed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
