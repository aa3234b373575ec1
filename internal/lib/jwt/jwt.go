package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
)

// Token type markers keep access and refresh tokens from being
// interchangeable even though both are signed with the same key.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// AccessClaims is the validated claim set of an access token.
type AccessClaims struct {
	UserID int64
	Email  string
	Roles  []string
}

// RefreshClaims is the validated claim set of a refresh token.
type RefreshClaims struct {
	UserID int64
	JTI    string
}

// Manager signs and validates both token kinds against a single
// symmetric secret and a fixed issuer/audience pair.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
}

func NewManager(secret, issuer, audience string) *Manager {
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// NewAccessToken creates a stateless access JWT carrying identity and roles.
func (m *Manager) NewAccessToken(user *models.User, ttl time.Duration) (string, error) {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}

	now := time.Now()
	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		jwt.MapClaims{
			"sub":        strconv.FormatInt(user.ID, 10),
			"email":      user.Email,
			"roles":      roles,
			"token_type": TypeAccess,
			"iss":        m.issuer,
			"aud":        m.audience,
			"iat":        now.Unix(),
			"exp":        now.Add(ttl).Unix(),
		})
	return token.SignedString(m.secret)
}

// NewRefreshToken creates a refresh JWT with a fresh random jti. The
// encoded expiry is only a structural ceiling; the authoritative expiry
// lives in the persisted store record.
func (m *Manager) NewRefreshToken(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		jwt.MapClaims{
			"sub":        strconv.FormatInt(userID, 10),
			"jti":        uuid.NewString(),
			"token_type": TypeRefresh,
			"iss":        m.issuer,
			"aud":        m.audience,
			"iat":        now.Unix(),
			"exp":        now.Add(ttl).Unix(),
		})
	return token.SignedString(m.secret)
}

// ParseAccess validates an access token and returns its claims.
func (m *Manager) ParseAccess(tokenString string) (*AccessClaims, error) {
	claims, err := m.parse(tokenString, TypeAccess)
	if err != nil {
		return nil, err
	}

	userID, err := subjectID(claims)
	if err != nil {
		return nil, err
	}

	email, _ := claims["email"].(string)

	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return &AccessClaims{
		UserID: userID,
		Email:  email,
		Roles:  roles,
	}, nil
}

// ParseRefresh validates a refresh token and returns its claims.
func (m *Manager) ParseRefresh(tokenString string) (*RefreshClaims, error) {
	claims, err := m.parse(tokenString, TypeRefresh)
	if err != nil {
		return nil, err
	}

	userID, err := subjectID(claims)
	if err != nil {
		return nil, err
	}

	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return nil, ErrInvalidToken
	}

	return &RefreshClaims{
		UserID: userID,
		JTI:    jti,
	}, nil
}

func (m *Manager) parse(tokenString, wantType string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(
		tokenString,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if tokenType, _ := claims["token_type"].(string); tokenType != wantType {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func subjectID(claims jwt.MapClaims) (int64, error) {
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
