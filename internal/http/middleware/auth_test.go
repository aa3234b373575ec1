package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
)

type fakeTierResolver struct {
	tier models.Tier
	err  error
}

func (f fakeTierResolver) TierFor(context.Context, int64) (models.Tier, error) {
	return f.tier, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAccessToken(t *testing.T, m *jwt.Manager) string {
	t.Helper()
	token, err := m.NewAccessToken(&models.User{
		ID:    7,
		Email: "user@example.com",
		Roles: []string{"free"},
	}, time.Minute)
	require.NoError(t, err)
	return token
}

func TestRequireAuth(t *testing.T) {
	tokens := jwt.NewManager("mw-test-secret", "jsondeck", "jsondeck-api")

	var captured AuthContext
	handler := RequireAuth(discardLogger(), tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		require.True(t, ok)
		captured = ac
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			authHeader: "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty bearer",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer garbage",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			authHeader: "Bearer " + newAccessToken(t, tokens),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	assert.Equal(t, int64(7), captured.UserID)
	assert.Equal(t, "user@example.com", captured.Email)
	assert.Equal(t, []string{"free"}, captured.Roles)
}

func TestRequireTier(t *testing.T) {
	tokens := jwt.NewManager("mw-test-secret", "jsondeck", "jsondeck-api")
	accessToken := newAccessToken(t, tokens)

	tests := []struct {
		name       string
		resolved   models.Tier
		minimum    models.Tier
		wantStatus int
	}{
		{
			name:       "free caller on pro route",
			resolved:   models.TierFree,
			minimum:    models.TierPro,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "pro caller on pro route",
			resolved:   models.TierPro,
			minimum:    models.TierPro,
			wantStatus: http.StatusOK,
		},
		{
			name:       "team caller on pro route",
			resolved:   models.TierTeam,
			minimum:    models.TierPro,
			wantStatus: http.StatusOK,
		},
		{
			name:       "pro caller on team route",
			resolved:   models.TierPro,
			minimum:    models.TierTeam,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured AuthContext
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ac, ok := FromContext(r.Context())
				require.True(t, ok)
				captured = ac
				w.WriteHeader(http.StatusOK)
			})

			handler := RequireAuth(discardLogger(), tokens)(
				RequireTier(discardLogger(), fakeTierResolver{tier: tt.resolved}, tt.minimum)(inner),
			)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+accessToken)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusOK {
				// The resolved tier is merged into, not replacing, the
				// static token roles.
				assert.Equal(t, tt.resolved, captured.Tier)
				assert.Contains(t, captured.Roles, "free")
				assert.Contains(t, captured.Roles, string(tt.resolved))
			}
		})
	}
}

func TestRequireTier_ResolverFailure(t *testing.T) {
	tokens := jwt.NewManager("mw-test-secret", "jsondeck", "jsondeck-api")

	handler := RequireAuth(discardLogger(), tokens)(
		RequireTier(discardLogger(), fakeTierResolver{err: errors.New("store down")}, models.TierPro)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+newAccessToken(t, tokens))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireTier_WithoutAuthGate(t *testing.T) {
	handler := RequireTier(discardLogger(), fakeTierResolver{tier: models.TierTeam}, models.TierPro)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
