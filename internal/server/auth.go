package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls how inbound connections are identified.
type AuthConfig struct {
	JWTSecret string
	// AllowTeamHeader lets callers identify via the X-Team header when no
	// bearer token is presented. Meant for dev and trusted internal setups.
	AllowTeamHeader bool
	Logger          *log.Logger
}

// Principal is the identified operator behind a request.
type Principal struct {
	Team   string
	Actor  string
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only enforce under the API base path; openapi and docs stay open.
			if basePath != "" && !strings.HasPrefix(r.URL.Path, basePath) {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}
			p, err := cfg.identify(r)
			if err != "" {
				cfg.logger().Printf("auth: reject %s %s: %s", r.Method, r.URL.Path, err)
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

func (c AuthConfig) identify(r *http.Request) (Principal, string) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(authz, "Bearer ") {
		if c.JWTSecret == "" {
			return Principal{}, "bearer auth not configured"
		}
		raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(c.JWTSecret), nil
		})
		if err != nil {
			return Principal{}, "invalid token"
		}
		team, _ := claims["team"].(string)
		if team == "" {
			return Principal{}, "token missing team claim"
		}
		actor, _ := claims["sub"].(string)
		if actor == "" {
			actor = team
		}
		return Principal{Team: team, Actor: actor, Source: "jwt"}, ""
	}
	if c.AllowTeamHeader {
		if team := strings.TrimSpace(r.Header.Get("X-Team")); team != "" {
			actor := strings.TrimSpace(r.Header.Get("X-Actor"))
			if actor == "" {
				actor = team
			}
			return Principal{Team: team, Actor: actor, Source: "header"}, ""
		}
	}
	return Principal{}, "authentication required"
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": "unauthorized", "message": msg},
	})
}
