package middleware

import (
	"context"
	"net/http"

	"github.com/trattoria/chef/internal/observability"
)

const sessionIDHeader = "X-Session-ID"

// SessionID copies the client's X-Session-ID header into the request context so
// log lines from the whole chat pipeline carry it. Missing header is fine; the
// handler falls back to the body's session_id field.
func SessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(sessionIDHeader); id != "" {
			ctx := context.WithValue(r.Context(), observability.SessionIDKey, id)
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(w, r)
	})
}
