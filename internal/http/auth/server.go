package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/http/middleware"
	"github.com/pradum97/jsondeck-sub000/internal/lib/sl"
	"github.com/pradum97/jsondeck-sub000/internal/services/auth"
)

const refreshCookieName = "refresh_token"

type Auth interface {
	Register(
		ctx context.Context,
		email string,
		password string,
	) (userID int64, err error)
	Login(
		ctx context.Context,
		email string,
		password string,
	) (accessToken, refreshToken string, err error)
	Refresh(
		ctx context.Context,
		refreshToken string,
	) (newAccessToken, newRefreshToken string, err error)
	Logout(
		ctx context.Context,
		refreshToken string,
	) error
}

type TierResolver interface {
	TierFor(ctx context.Context, userID int64) (models.Tier, error)
}

type Server struct {
	logger     *slog.Logger
	auth       Auth
	tiers      TierResolver
	refreshTTL time.Duration
}

func New(logger *slog.Logger, authService Auth, tiers TierResolver, refreshTTL time.Duration) *Server {
	return &Server{
		logger:     logger,
		auth:       authService,
		tiers:      tiers,
		refreshTTL: refreshTTL,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	userID, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserAlreadyExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		s.logger.Error("register failed", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"userId": userID})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	accessToken, refreshToken, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		s.logger.Error("login failed", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setRefreshCookie(w, refreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"accessToken": accessToken})
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}

	accessToken, refreshToken, err := s.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		// The distinct failure kinds stay in the logs; the client gets
		// one generic message so store state does not leak.
		if isRefreshRejection(err) {
			s.expireRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		s.logger.Error("refresh failed", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setRefreshCookie(w, refreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"accessToken": accessToken})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err == nil && cookie.Value != "" {
		if err := s.auth.Logout(r.Context(), cookie.Value); err != nil {
			s.logger.Error("logout failed", sl.Err(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	s.expireRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me reports the caller's identity plus the tier resolved from the
// current subscription snapshot.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	tier, err := s.tiers.TierFor(r.Context(), ac.UserID)
	if err != nil {
		s.logger.Error("failed to resolve tier", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	roles := ac.Roles
	if roles == nil {
		roles = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId": ac.UserID,
		"email":  ac.Email,
		"roles":  roles,
		"tier":   tier,
	})
}

func isRefreshRejection(err error) bool {
	return errors.Is(err, auth.ErrInvalidRefreshToken) ||
		errors.Is(err, auth.ErrRefreshTokenNotFound) ||
		errors.Is(err, auth.ErrRefreshTokenRevoked) ||
		errors.Is(err, auth.ErrRefreshTokenExpired)
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.refreshTTL.Seconds()),
	})
}

func (s *Server) expireRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
