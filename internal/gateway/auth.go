package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

// extractBearerToken reads "Authorization: Bearer <token>", falling back to
// the token query parameter for browser websockets.
func extractBearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// tokenMatch compares in constant time. An empty expected token allows everything.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.opts.Token) {
			slog.Warn("security.unauthorized", "path", r.URL.Path, "remote", clientKey(r))
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
