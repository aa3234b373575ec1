package tests

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pradum97/jsondeck-sub000/tests/suite"
)

const passDefaultLen = 10

func TestAuthRegisterLogin(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	password := randomPassword()

	userID := st.Register(email, password)
	assert.NotZero(t, userID)

	loginTime := time.Now()
	accessToken, refreshCookie := st.Login(email, password)

	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, refreshCookie)

	claims := parseClaims(t, accessToken)
	assert.Equal(t, strconv.FormatInt(userID, 10), claims["sub"].(string))
	assert.Equal(t, "jsondeck", claims["iss"].(string))
	assert.Equal(t, "jsondeck-api", claims["aud"].(string))
	assert.Equal(t, "access", claims["token_type"].(string))

	// Emails are normalized on registration, so the claim is lower-case.
	roles, ok := claims["roles"].([]interface{})
	assert.True(t, ok)
	assert.Contains(t, roles, "free")

	const deltaSeconds = 2
	assert.InDelta(t, loginTime.Add(suite.AccessTokenTTL).Unix(), claims["exp"].(float64), deltaSeconds)

	// The refresh cookie carries a signed token too, marked so it can
	// never pass as an access token.
	refreshClaims := parseClaims(t, refreshCookie)
	assert.Equal(t, "refresh", refreshClaims["token_type"].(string))
	assert.NotEmpty(t, refreshClaims["jti"])
}

func TestLogin_EmailNormalization(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	password := randomPassword()

	st.Register(email, password)

	// Login with an upper-cased, padded variant of the same address.
	resp := st.PostJSON("/api/auth/login", map[string]string{
		"email":    "  " + strings.ToUpper(email) + " ",
		"password": password,
	}, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegister_DuplicatedRegistration(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	password := randomPassword()

	st.Register(email, password)

	resp := st.PostJSON("/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "user already exists", errorMessage(t, resp))
}

func TestRegister_FailCases(t *testing.T) {
	_, st := suite.New(t)

	tests := []struct {
		name        string
		email       string
		password    string
		expectedErr string
	}{
		{
			name:        "Register with Empty Password",
			email:       gofakeit.Email(),
			password:    "",
			expectedErr: "password is required",
		},
		{
			name:        "Register with Empty Email",
			email:       "",
			password:    randomPassword(),
			expectedErr: "email is required",
		},
		{
			name:        "Register with Both Empty",
			email:       "",
			password:    "",
			expectedErr: "email is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := st.PostJSON("/api/auth/register", map[string]string{
				"email":    tt.email,
				"password": tt.password,
			}, "")
			defer resp.Body.Close()

			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, tt.expectedErr, errorMessage(t, resp))
		})
	}
}

func TestLogin_FailCases(t *testing.T) {
	_, st := suite.New(t)

	registered := gofakeit.Email()
	st.Register(registered, randomPassword())

	tests := []struct {
		name           string
		email          string
		password       string
		expectedStatus int
		expectedErr    string
	}{
		{
			name:           "Login with Empty Password",
			email:          gofakeit.Email(),
			password:       "",
			expectedStatus: http.StatusBadRequest,
			expectedErr:    "password is required",
		},
		{
			name:           "Login with Empty Email",
			email:          "",
			password:       randomPassword(),
			expectedStatus: http.StatusBadRequest,
			expectedErr:    "email is required",
		},
		{
			name:           "Login with Unknown Email",
			email:          gofakeit.Email(),
			password:       randomPassword(),
			expectedStatus: http.StatusUnauthorized,
			expectedErr:    "invalid email or password",
		},
		{
			name:           "Login with Wrong Password",
			email:          registered,
			password:       randomPassword(),
			expectedStatus: http.StatusUnauthorized,
			expectedErr:    "invalid email or password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := st.PostJSON("/api/auth/login", map[string]string{
				"email":    tt.email,
				"password": tt.password,
			}, "")
			defer resp.Body.Close()

			require.Equal(t, tt.expectedStatus, resp.StatusCode)
			require.Equal(t, tt.expectedErr, errorMessage(t, resp))
		})
	}
}

// Unknown email and wrong password must be indistinguishable at the
// API boundary: same status, same body.
func TestLogin_CredentialIndistinguishability(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	st.Register(email, randomPassword())

	unknownResp := st.PostJSON("/api/auth/login", map[string]string{
		"email":    gofakeit.Email(),
		"password": "anything",
	}, "")
	defer unknownResp.Body.Close()

	wrongPassResp := st.PostJSON("/api/auth/login", map[string]string{
		"email":    email,
		"password": "definitely-wrong",
	}, "")
	defer wrongPassResp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, unknownResp.StatusCode)
	require.Equal(t, http.StatusUnauthorized, wrongPassResp.StatusCode)
	assert.Equal(t, errorMessage(t, unknownResp), errorMessage(t, wrongPassResp))
}

func parseClaims(t *testing.T, tokenString string) jwt.MapClaims {
	t.Helper()

	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(suite.JWTSecret), nil
	})
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func randomPassword() string {
	return gofakeit.Password(true, true, true, true, false, passDefaultLen)
}
