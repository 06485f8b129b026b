package token

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/credential"
	"github.com/perkline/perkline/internal/request"
	"github.com/rs/zerolog/log"
)

// Identifiers name the partner scanning a token and the store it is
// scanned at. Missing values are taken from the signed-in session.
type Identifiers struct {
	PartnerID string `json:"partnerId"`
	StoreID   string `json:"storeId"`
}

// Result is the outcome of a validation. Message is user-facing and set
// whenever validation fails.
type Result struct {
	Valid      bool   `json:"valid"`
	CustomerID string `json:"customerId,omitempty"`
	Reward     string `json:"reward,omitempty"`
	Message    string `json:"message,omitempty"`
}

type validateRequest struct {
	Token string `json:"token"`
	Identifiers
}

// Validator checks scanned tokens on the partner side.
type Validator struct {
	doer        request.Doer
	credentials credential.Provider
	endpoint    string
	translator  *apierror.Translator
}

// NewValidator creates a validator posting to endpoint. Rejections of
// already redeemed tokens are reported with a dedicated message.
func NewValidator(doer request.Doer, credentials credential.Provider, endpoint string, translator *apierror.Translator) *Validator {
	return &Validator{
		doer:        doer,
		credentials: credentials,
		endpoint:    endpoint,
		translator:  translator.With(apierror.AlreadyUsed),
	}
}

// Validate normalizes raw, resolves missing identifiers and asks the
// backend whether the token can be redeemed. Input problems are reported
// before any network call.
func (v *Validator) Validate(ctx context.Context, raw string, ids Identifiers) (Result, error) {
	tok := Normalize(raw)
	if tok == "" {
		return v.fail(apierror.Validation("token is empty"))
	}

	ids = v.resolve(ctx, ids)
	if ids.PartnerID == "" || ids.StoreID == "" {
		return v.fail(apierror.Validation("partner and store identifiers are required"))
	}

	ctx, entry := audit.Context(ctx)
	entry.Begin(http.MethodPost, v.endpoint)
	defer entry.End(ctx)()

	body, err := v.doer.Execute(ctx, request.Descriptor{
		Method:   http.MethodPost,
		Endpoint: v.endpoint,
		Body:     validateRequest{Token: tok, Identifiers: ids},
	})
	if err != nil {
		entry.Fail(err)
		return v.fail(err)
	}

	var result Result
	if err := body.Decode(&result); err != nil {
		entry.Fail(err)
		return v.fail(err)
	}

	return result, nil
}

func (v *Validator) fail(err error) (Result, error) {
	return Result{Message: v.translator.Message(err)}, err
}

func (v *Validator) resolve(ctx context.Context, ids Identifiers) Identifiers {
	if (ids.PartnerID != "" && ids.StoreID != "") || v.credentials == nil {
		return ids
	}

	session, err := credential.CurrentSession(ctx, v.credentials)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("session identifiers unavailable")
		return ids
	}

	if ids.PartnerID == "" {
		ids.PartnerID = session.UserID
	}
	if ids.StoreID == "" {
		ids.StoreID = session.StoreID
	}

	return ids
}

var prefixes = []string{
	"perkline://token/",
	"perkline:",
	"qr:",
}

// Normalize strips the wrappers a scanner may deliver around a token:
// surrounding whitespace and quotes, URI and label prefixes, and JSON
// envelopes of the form {"token": "..."}.
func Normalize(raw string) string {
	s := raw
	for {
		next := unwrap(s)
		if next == s {
			return s
		}
		s = next
	}
}

func unwrap(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")

	if strings.HasPrefix(s, "{") {
		var envelope struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(s), &envelope); err == nil {
			return envelope.Token
		}
		return s
	}

	for _, p := range prefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			return s[len(p):]
		}
	}

	return s
}
