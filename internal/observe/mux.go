package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers handlers wrapped with OTel server instrumentation, naming
// each span after its route.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	method, route := SplitPattern(pattern)
	mux.wrapped.Handle(pattern, otelhttp.NewHandler(handler, SpanName(method, route)))
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// SplitPattern separates the optional method prefix of a ServeMux pattern
// from its route.
func SplitPattern(pattern string) (method string, route string) {
	method, route, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return method, route
	}
	return "", pattern
}

// SpanName is the span name used for both client and server spans.
func SpanName(method, route string) string {
	if method == "" {
		return route
	}
	return method + " " + route
}
