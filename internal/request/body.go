package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/perkline/perkline/internal/apierror"
)

// Kind identifies how a successful response body was interpreted.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	default:
		return "empty"
	}
}

// Body is a parsed success response.
type Body struct {
	Kind       Kind
	StatusCode int
	raw        []byte
}

// JSON creates a body holding already validated JSON.
func JSON(raw []byte) Body {
	return Body{Kind: KindJSON, StatusCode: http.StatusOK, raw: raw}
}

// Text creates a plain text body.
func Text(s string) Body {
	return Body{Kind: KindText, StatusCode: http.StatusOK, raw: []byte(s)}
}

// Empty is a body with no content.
func Empty() Body {
	return Body{Kind: KindEmpty, StatusCode: http.StatusNoContent}
}

// Raw returns the undecoded response bytes. Nil for empty bodies.
func (b Body) Raw() []byte {
	return b.raw
}

// String returns the body as text.
func (b Body) String() string {
	return string(b.raw)
}

// Decode unmarshals the body into v. Text bodies can only be decoded into a
// *string. Empty bodies leave v untouched.
func (b Body) Decode(v any) error {
	switch b.Kind {
	case KindJSON:
		if err := json.Unmarshal(b.raw, v); err != nil {
			return apierror.Parse(err)
		}
		return nil
	case KindText:
		s, ok := v.(*string)
		if !ok {
			return apierror.Parse(fmt.Errorf("text response cannot be decoded into %T", v))
		}
		*s = string(b.raw)
		return nil
	default:
		return nil
	}
}

var errInvalidJSON = errors.New("body declared as JSON is not valid JSON")

// parse interprets a 2xx response body according to its declared content
// type.
func parse(status int, contentType string, data []byte) (Body, error) {
	if status == http.StatusNoContent || len(data) == 0 {
		return Body{Kind: KindEmpty, StatusCode: status}, nil
	}

	if isJSON(contentType) {
		if !json.Valid(data) {
			return Body{}, apierror.Parse(errInvalidJSON)
		}
		return Body{Kind: KindJSON, StatusCode: status, raw: data}, nil
	}

	return Body{Kind: KindText, StatusCode: status, raw: data}, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
