package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tradepost/internal/domain"
)

// PlayerHeader carries the caller's player id when the server trusts it.
const PlayerHeader = "X-Player-ID"

type ctxKey int

const playerKey ctxKey = iota

// WithPlayerID returns a copy of ctx carrying playerID.
func WithPlayerID(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, playerKey, playerID)
}

// PlayerID returns the authenticated player id stored by Identity.
func PlayerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(playerKey).(string)
	return id, ok && id != ""
}

// Identity resolves the calling player and stores the id in the request
// context. A bearer token (header or the "token" query parameter, which
// browsers need for WebSocket upgrades) is resolved through resolver. When
// trustHeader is set, X-Player-ID is accepted without a token.
//
// Requests without credentials pass through anonymously; handlers that need
// a player reject them. A token that does not resolve is rejected here.
func Identity(resolver domain.SessionResolver, trustHeader bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := extractToken(r); token != "" && resolver != nil {
				playerID, err := resolver.Resolve(r.Context(), token)
				if err != nil {
					if !errors.Is(err, domain.ErrUnauthorized) {
						logger.WarnContext(r.Context(), "identity: resolve session failed",
							slog.String("error", err.Error()),
						)
					}
					writeUnauthorized(w)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithPlayerID(r.Context(), playerID)))
				return
			}

			if trustHeader {
				if id := strings.TrimSpace(r.Header.Get(PlayerHeader)); id != "" {
					next.ServeHTTP(w, r.WithContext(WithPlayerID(r.Context(), id)))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads the session token from the Authorization header
// ("Bearer <token>") or the token query parameter.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	return r.URL.Query().Get("token")
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "invalid or expired session",
		"code":  string(domain.CodeUnauthorized),
	})
}
