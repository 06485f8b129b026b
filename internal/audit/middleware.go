package audit

import (
	"net/http"

	"github.com/felixge/httpsnoop"
)

// Middleware writes an audit entry for every inbound request, recording the
// response status. Handlers further down the chain can add detail through
// Log(r.Context()).
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r.Method, r.URL.Path)
			defer entry.End(ctx)()

			w = httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						if entry.Status == 0 {
							entry.RecordAttempt(code)
						}
						next(code)
					}
				},
			})

			next.ServeHTTP(w, r.WithContext(ctx))

			if entry.Status == 0 {
				entry.RecordAttempt(http.StatusOK)
			}
		})
	}
}
