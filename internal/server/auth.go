package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"prosync/internal/domain"
	"prosync/internal/engine/auth"
	"prosync/internal/repo"
)

type AuthConfig struct {
	Sessions auth.Sessions
	Logger   *log.Logger
}

// Principal is the authenticated user behind a request.
type Principal struct {
	User    domain.User
	Session string
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

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.User.ID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requireAdmin resolves the principal and checks the admin flag.
func requireAdmin(ctx context.Context) (Principal, error) {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := auth.RequireAdmin(p.User); err != nil {
		return Principal{}, handleError(err)
	}
	return p, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// authenticate resolves a session token to an active user.
func authenticate(ctx context.Context, cfg AuthConfig, users auth.UserLister, token, userAgent string) (domain.User, bool) {
	id, ok, err := cfg.Sessions.Validate(token, userAgent)
	if err != nil {
		cfg.logger().Printf("auth: rejected token: %v", err)
		return domain.User{}, false
	}
	if !ok {
		return domain.User{}, false
	}
	all, err := users.ListUsers(ctx)
	if err != nil {
		cfg.logger().Printf("auth: load users: %v", err)
		return domain.User{}, false
	}
	for _, u := range all {
		if u.ID == id {
			if u.Status != domain.UserActive {
				return domain.User{}, false
			}
			u.Password = ""
			return u, true
		}
	}
	return domain.User{}, false
}

func newAuthMiddleware(basePath string, cfg AuthConfig, store repo.Store) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):     true,
		path.Join(basePath, "auth/login"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] || req.URL.Path == path.Join(basePath, "openapi.json") {
				next.ServeHTTP(w, req)
				return
			}
			token, ok := bearerToken(strings.TrimSpace(req.Header.Get("Authorization")))
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			u, ok := authenticate(req.Context(), cfg, store, token, req.UserAgent())
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "session expired or invalid", nil))
				return
			}
			ctx := withPrincipal(req.Context(), Principal{User: u, Session: token})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
