package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
	"github.com/pradum97/jsondeck-sub000/internal/lib/sl"
)

// AuthContext is the authentication context attached to every request
// that passes the auth gate. Tier is zero until the tier gate (or a
// handler) resolves it; the value is passed by value to handlers and
// never mutated in place.
type AuthContext struct {
	UserID int64
	Email  string
	Roles  []string
	Tier   models.Tier
}

type authContextKey struct{}

// FromContext extracts the AuthContext attached by RequireAuth.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(AuthContext)
	return ac, ok
}

// TierResolver derives the caller's subscription tier per request.
type TierResolver interface {
	TierFor(ctx context.Context, userID int64) (models.Tier, error)
}

// RequireAuth verifies the bearer access token and attaches an
// AuthContext. Validation is fully stateless; the refresh token store
// is never consulted here.
func RequireAuth(logger *slog.Logger, tokens *jwt.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.RequireAuth"

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := tokens.ParseAccess(token)
			if err != nil {
				logger.Warn("access token rejected", slog.String("op", op), sl.Err(err))
				unauthorized(w, "invalid or expired token")
				return
			}

			ac := AuthContext{
				UserID: claims.UserID,
				Email:  claims.Email,
				Roles:  claims.Roles,
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTier layers a subscription gate on top of RequireAuth. The
// tier is resolved from the current billing snapshot on every request
// and merged into the context roles, so plan changes apply without
// token reissue.
func RequireTier(logger *slog.Logger, resolver TierResolver, minimum models.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.RequireTier"

			ac, ok := FromContext(r.Context())
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			tier, err := resolver.TierFor(r.Context(), ac.UserID)
			if err != nil {
				logger.Error("failed to resolve tier", slog.String("op", op), sl.Err(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			if !atLeast(tier, minimum) {
				logger.Warn("subscription tier insufficient",
					slog.String("op", op),
					slog.Int64("userID", ac.UserID),
					slog.String("tier", string(tier)),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"access denied"}`))
				return
			}

			ac.Tier = tier
			ac.Roles = mergeRole(ac.Roles, string(tier))

			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

var tierRank = map[models.Tier]int{
	models.TierFree: 0,
	models.TierPro:  1,
	models.TierTeam: 2,
}

func atLeast(have, want models.Tier) bool {
	return tierRank[have] >= tierRank[want]
}

// mergeRole appends the resolved tier to the token roles without
// duplicating or replacing anything already there.
func mergeRole(roles []string, role string) []string {
	for _, r := range roles {
		if r == role {
			return roles
		}
	}
	merged := make([]string, 0, len(roles)+1)
	merged = append(merged, roles...)
	return append(merged, role)
}
