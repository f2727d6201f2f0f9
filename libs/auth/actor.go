package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
)

// Actor is the authenticated principal performing a staff operation.
type Actor struct {
	ID         string
	BusinessID string
	Role       string
}

type actorKey struct{}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// RequireActor resolves the caller. With a secret it verifies an HS256
// bearer token. Without one it trusts the X-User-Id / X-Business-Id /
// X-Role headers set by the gateway in front of this service.
func RequireActor(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor Actor
			if secret != "" {
				authHeader := r.Header.Get("Authorization")
				token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
				if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
					httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid Authorization header")
					return
				}
				claims, err := ParseAndVerifyHS256(token, secret, time.Now())
				if err != nil {
					httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
				actor = Actor{ID: claims.Sub, BusinessID: claims.BusinessID, Role: claims.Role}
			} else {
				actor = Actor{
					ID:         strings.TrimSpace(r.Header.Get("X-User-Id")),
					BusinessID: strings.TrimSpace(r.Header.Get("X-Business-Id")),
					Role:       strings.TrimSpace(r.Header.Get("X-Role")),
				}
				if actor.ID == "" {
					httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing X-User-Id")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
