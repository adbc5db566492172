package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// contextKey type for request context keys
type contextKey string

// PeerNodeIDKey holds the authenticated peer's node id in the request context
const PeerNodeIDKey contextKey = "peer_node_id"

// PeerNodeID extracts the authenticated peer node id from the context.
func PeerNodeID(ctx context.Context) (string, bool) {
	nodeID, ok := ctx.Value(PeerNodeIDKey).(string)
	return nodeID, ok
}

// TokenValidator validates a bearer token and returns the peer node id.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// PeerAuth rejects requests without a valid mesh bearer token and stores the
// authenticated peer node id in the request context. A nil validator disables
// auth (open mesh).
func PeerAuth(logger *slog.Logger, validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("Invalid Authorization header format", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: invalid token format", http.StatusUnauthorized)
				return
			}

			nodeID, err := validator.Validate(parts[1])
			if err != nil {
				logger.Warn("Invalid peer token", "error", err, "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), PeerNodeIDKey, nodeID)

			logger.Debug("Peer authenticated", "peer_node_id", nodeID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
