package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
	"github.com/pradum97/jsondeck-sub000/internal/lib/password"
	"github.com/pradum97/jsondeck-sub000/internal/lib/sl"
	"github.com/pradum97/jsondeck-sub000/internal/storage"
)

type Auth struct {
	logger          *slog.Logger
	userSaver       UserSaver
	userProvider    UserProvider
	tokenProvider   RefreshTokenProvider
	tokens          *jwt.Manager
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	refreshPepper   string
}

type UserSaver interface {
	SaveUser(
		ctx context.Context,
		email string,
		passHash []byte,
		passSalt []byte,
	) (uid int64, err error)
}

type UserProvider interface {
	User(
		ctx context.Context,
		email string,
	) (user *models.User, err error)
	UserByID(
		ctx context.Context,
		userID int64,
	) (user *models.User, err error)
}

type RefreshTokenProvider interface {
	SaveRefreshToken(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	RefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, userID int64, newExpiresAt time.Time) error
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")

	// Refresh failure kinds are distinct for audit logging even though
	// the HTTP boundary collapses them into one generic 401.
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenNotFound = errors.New("refresh token not recognized")
	ErrRefreshTokenRevoked  = errors.New("refresh token revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

// decoy credentials keep the not-found and wrong-password paths on
// comparable latency, so failures do not reveal whether the account exists.
var (
	decoySalt = []byte("jsondeck-decoy-salt-")
	decoyHash = make([]byte, 32)
)

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokenProvider RefreshTokenProvider,
	tokens *jwt.Manager,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
	refreshPepper string,
) *Auth {
	return &Auth{
		logger:          logger,
		userSaver:       userSaver,
		userProvider:    userProvider,
		tokenProvider:   tokenProvider,
		tokens:          tokens,
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		refreshPepper:   refreshPepper,
	}
}

// Register creates a new user with a freshly salted scrypt hash.
func (a *Auth) Register(
	ctx context.Context,
	email string,
	pass string,
) (userID int64, err error) {
	const op = "auth.Register"
	log := a.logger.With(slog.String("op", op))
	log.Info("register request")

	email = normalizeEmail(email)

	passHash, passSalt, err := password.Hash(pass)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	userID, err = a.userSaver.SaveUser(ctx, email, passHash, passSalt)
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Warn("user already exists", sl.Err(err))
			return 0, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("userID", userID))

	return userID, nil
}

// Login verifies credentials and issues a fresh access/refresh token pair.
// Unknown email and wrong password fail identically.
func (a *Auth) Login(
	ctx context.Context,
	email string,
	pass string,
) (accessToken, refreshToken string, err error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op))
	log.Info("login request")

	user, err := a.authenticate(ctx, email, pass)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Warn("invalid credentials")
			return "", "", fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to authenticate user", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	accessToken, refreshToken, err = a.issueTokenPair(ctx, user)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.Int64("userID", user.ID))

	return accessToken, refreshToken, nil
}

// Refresh rotates the presented refresh token and reissues an access token.
//
// The store update is conditional on the old record still being active,
// so of two racing refresh calls exactly one wins; the loser surfaces
// as ErrRefreshTokenRevoked, which is also the replay-detection signal.
func (a *Auth) Refresh(
	ctx context.Context,
	refreshToken string,
) (newAccessToken, newRefreshToken string, err error) {
	const op = "auth.Refresh"
	log := a.logger.With(slog.String("op", op))
	log.Info("refresh request")

	claims, err := a.tokens.ParseRefresh(refreshToken)
	if err != nil {
		log.Warn("refresh token failed verification", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	tokenHash := a.hashRefreshToken(refreshToken)

	tokenDoc, err := a.tokenProvider.RefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not recognized")
			return "", "", fmt.Errorf("%s: %w", op, ErrRefreshTokenNotFound)
		}
		log.Error("failed to get refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	if tokenDoc.RevokedAt != nil {
		log.Warn("revoked refresh token replayed",
			slog.Int64("userID", tokenDoc.UserID),
			slog.Time("revokedAt", *tokenDoc.RevokedAt),
		)
		return "", "", fmt.Errorf("%s: %w", op, ErrRefreshTokenRevoked)
	}

	if !tokenDoc.Active(time.Now()) {
		log.Warn("refresh token expired", slog.Int64("userID", tokenDoc.UserID))
		return "", "", fmt.Errorf("%s: %w", op, ErrRefreshTokenExpired)
	}

	// A correctly signed token must still reference a record it owns.
	if tokenDoc.UserID != claims.UserID {
		log.Warn("refresh token subject does not own the store record",
			slog.Int64("recordUserID", tokenDoc.UserID),
		)
		return "", "", fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	// Roles and email are re-fetched so the new access token reflects
	// any changes since the original login.
	user, err := a.userProvider.UserByID(ctx, tokenDoc.UserID)
	if err != nil {
		log.Error("failed to get user", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	newAccessToken, err = a.tokens.NewAccessToken(user, a.accessTokenTTL)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	newRefreshToken, err = a.tokens.NewRefreshToken(user.ID, a.refreshTokenTTL)
	if err != nil {
		log.Error("failed to generate refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	newHash := a.hashRefreshToken(newRefreshToken)
	newExpiresAt := time.Now().Add(a.refreshTokenTTL)

	err = a.tokenProvider.RotateRefreshToken(ctx, tokenHash, newHash, tokenDoc.UserID, newExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenRevoked):
			log.Warn("lost rotation race, token already revoked", slog.Int64("userID", tokenDoc.UserID))
			return "", "", fmt.Errorf("%s: %w", op, ErrRefreshTokenRevoked)
		case errors.Is(err, storage.ErrTokenNotFound):
			log.Warn("refresh token disappeared during rotation")
			return "", "", fmt.Errorf("%s: %w", op, ErrRefreshTokenNotFound)
		default:
			log.Error("failed to rotate refresh token", sl.Err(err))
			return "", "", fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("tokens refreshed", slog.Int64("userID", user.ID))

	return newAccessToken, newRefreshToken, nil
}

// Logout revokes the presented refresh token. Unknown or malformed
// tokens are not an error; logout is idempotent.
func (a *Auth) Logout(
	ctx context.Context,
	refreshToken string,
) error {
	const op = "auth.Logout"
	log := a.logger.With(slog.String("op", op))
	log.Info("logout request")

	if _, err := a.tokens.ParseRefresh(refreshToken); err != nil {
		log.Warn("logout with unverifiable refresh token", sl.Err(err))
		return nil
	}

	tokenHash := a.hashRefreshToken(refreshToken)

	if err := a.tokenProvider.RevokeRefreshToken(ctx, tokenHash); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenRevoked) {
			return nil
		}
		log.Error("failed to revoke refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh token revoked")

	return nil
}

// authenticate checks an email/password pair against the stored salted hash.
func (a *Auth) authenticate(
	ctx context.Context,
	email string,
	pass string,
) (*models.User, error) {
	const op = "auth.authenticate"

	user, err := a.userProvider.User(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Burn a comparison anyway so this path costs about the
			// same as a password mismatch.
			password.Compare(pass, decoySalt, decoyHash)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !password.Compare(pass, user.PassSalt, user.PassHash) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return user, nil
}

// issueTokenPair mints an access token plus a persisted refresh token.
func (a *Auth) issueTokenPair(ctx context.Context, user *models.User) (accessToken, refreshToken string, err error) {
	accessToken, err = a.tokens.NewAccessToken(user, a.accessTokenTTL)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = a.tokens.NewRefreshToken(user.ID, a.refreshTokenTTL)
	if err != nil {
		return "", "", err
	}

	tokenHash := a.hashRefreshToken(refreshToken)
	expiresAt := time.Now().Add(a.refreshTokenTTL)

	if err := a.tokenProvider.SaveRefreshToken(ctx, tokenHash, user.ID, expiresAt); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// hashRefreshToken computes SHA-256 hash of the token with pepper.
func (a *Auth) hashRefreshToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token + a.refreshPepper))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
