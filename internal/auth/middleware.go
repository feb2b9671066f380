package auth

import (
	"net/http"
	"strings"
)

// Middleware attaches session claims to authenticated requests. Requests
// without a token pass through unauthenticated; handlers that require a
// session check for claims themselves, since the feed is readable logged
// out.
type Middleware struct {
	cfg Config
}

// NewMiddleware constructs Middleware with validation config.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{cfg: cfg}
}

// Wrap attaches claim extraction to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}
		claims, err := Parse(strings.TrimSpace(header[len("Bearer "):]), m.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
