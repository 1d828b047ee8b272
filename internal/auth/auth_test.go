package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func issueToken(t *testing.T, priv ed25519.PrivateKey, sub string, roles []string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"roles": roles,
		"iat":   time.Now().Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)
	return tok
}

func TestAuthenticate_AnonymousWithoutHeader(t *testing.T) {
	a, err := NewAuthenticator("")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestAuthenticate_ValidBearerToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a, err := NewAuthenticator(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err)

	token := issueToken(t, priv, "researcher-42", []string{"user"})
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	user, err := a.Authenticate(r)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "researcher-42", user.ID)
	require.Equal(t, []string{"user"}, user.Roles)
}

func TestAuthenticate_RejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a, err := NewAuthenticator(base64.StdEncoding.EncodeToString(otherPub))
	require.NoError(t, err)

	token := issueToken(t, priv, "someone", nil)
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err = a.Authenticate(r)
	require.Error(t, err)
}

func TestMiddleware_InjectsUserIntoContext(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a, err := NewAuthenticator(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err)

	var seen *User
	h := a.Middleware(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		rw.WriteHeader(http.StatusOK)
	}))

	token := issueToken(t, priv, "researcher-1", nil)
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()

	h.ServeHTTP(rw, r)
	require.Equal(t, http.StatusOK, rw.Code)
	require.NotNil(t, seen)
	require.Equal(t, "researcher-1", seen.ID)
}
