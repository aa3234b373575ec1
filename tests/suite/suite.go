package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	httprouter "github.com/pradum97/jsondeck-sub000/internal/http"
	authhttp "github.com/pradum97/jsondeck-sub000/internal/http/auth"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
	authservice "github.com/pradum97/jsondeck-sub000/internal/services/auth"
	"github.com/pradum97/jsondeck-sub000/internal/services/roles"
	"github.com/pradum97/jsondeck-sub000/internal/storage/sqlite"
)

const (
	JWTSecret     = "functional-test-secret"
	JWTIssuer     = "jsondeck"
	JWTAudience   = "jsondeck-api"
	RefreshPepper = "functional-test-pepper"

	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	RefreshCookieName = "refresh_token"
)

type Suite struct {
	*testing.T
	Server  *httptest.Server
	Storage *sqlite.Storage
	Tokens  *jwt.Manager
}

// New builds the whole service against a throwaway SQLite database and
// serves it over httptest.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "jsondeck_test.db")

	m, err := migrate.New("file://../migrations", "sqlite3://"+dbPath)
	if err != nil {
		t.Fatalf("failed to init migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		t.Fatalf("failed to close migrator: %v / %v", srcErr, dbErr)
	}

	storage, err := sqlite.New(dbPath + "?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		t.Fatalf("failed to open sqlite storage: %v", err)
	}
	// Serialize writers so concurrency tests race on store state, not
	// on SQLITE_BUSY.
	storage.DB().SetMaxOpenConns(1)

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	tokens := jwt.NewManager(JWTSecret, JWTIssuer, JWTAudience)

	authService := authservice.New(
		logger,
		storage,
		storage,
		storage,
		tokens,
		AccessTokenTTL,
		RefreshTokenTTL,
		RefreshPepper,
	)
	tierResolver := roles.New(logger, storage)
	authServer := authhttp.New(logger, authService, tierResolver, RefreshTokenTTL)

	server := httptest.NewServer(httprouter.NewRouter(logger, tokens, authServer))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	t.Cleanup(func() {
		t.Helper()
		cancel()
		server.Close()
		_ = storage.Close()
	})

	return ctx, &Suite{
		T:       t,
		Server:  server,
		Storage: storage,
		Tokens:  tokens,
	}
}

// PostJSON fires a JSON POST with optional refresh cookie.
func (s *Suite) PostJSON(path string, body any, refreshCookie string) *http.Response {
	s.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.T.Fatalf("failed to encode request body: %v", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, s.Server.URL+path, &buf)
	if err != nil {
		s.T.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if refreshCookie != "" {
		req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: refreshCookie})
	}

	resp, err := s.Server.Client().Do(req)
	if err != nil {
		s.T.Fatalf("request failed: %v", err)
	}
	return resp
}

// Get fires a GET with an optional bearer token.
func (s *Suite) Get(path string, accessToken string) *http.Response {
	s.T.Helper()

	req, err := http.NewRequest(http.MethodGet, s.Server.URL+path, nil)
	if err != nil {
		s.T.Fatalf("failed to build request: %v", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := s.Server.Client().Do(req)
	if err != nil {
		s.T.Fatalf("request failed: %v", err)
	}
	return resp
}

// Register creates a user and returns its ID.
func (s *Suite) Register(email, password string) int64 {
	s.T.Helper()

	resp := s.PostJSON("/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		s.T.Fatalf("register: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		UserID int64 `json:"userId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.T.Fatalf("register: failed to decode response: %v", err)
	}
	return body.UserID
}

// Login authenticates and returns the access token plus refresh cookie value.
func (s *Suite) Login(email, password string) (accessToken, refreshCookie string) {
	s.T.Helper()

	resp := s.PostJSON("/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.T.Fatalf("login: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.T.Fatalf("login: failed to decode response: %v", err)
	}

	return body.AccessToken, RefreshCookieValue(s.T, resp)
}

// RefreshCookieValue extracts the refresh cookie set on a response.
func RefreshCookieValue(t *testing.T, resp *http.Response) string {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == RefreshCookieName {
			return c.Value
		}
	}
	t.Fatalf("response carries no %s cookie", RefreshCookieName)
	return ""
}

// SeedSubscription plants a billing snapshot for the user.
func (s *Suite) SeedSubscription(ctx context.Context, sub *models.Subscription) {
	s.T.Helper()
	if err := s.Storage.SeedSubscription(ctx, sub); err != nil {
		s.T.Fatalf("failed to seed subscription: %v", err)
	}
}

// TokenChainRow is one refresh-token record of a user's rotation chain.
type TokenChainRow struct {
	TokenHash      string
	Revoked        bool
	ReplacedByHash *string
}

// TokenChain returns the user's refresh-token records in creation order.
func (s *Suite) TokenChain(ctx context.Context, userID int64) []TokenChainRow {
	s.T.Helper()

	rows, err := s.Storage.DB().QueryContext(ctx,
		`SELECT token_hash, revoked_at IS NOT NULL, replaced_by_hash
		 FROM refresh_tokens WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		s.T.Fatalf("failed to query token chain: %v", err)
	}
	defer rows.Close()

	var chain []TokenChainRow
	for rows.Next() {
		var row TokenChainRow
		if err := rows.Scan(&row.TokenHash, &row.Revoked, &row.ReplacedByHash); err != nil {
			s.T.Fatalf("failed to scan token chain row: %v", err)
		}
		chain = append(chain, row)
	}
	if err := rows.Err(); err != nil {
		s.T.Fatalf("token chain rows: %v", err)
	}
	return chain
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
