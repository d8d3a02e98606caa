package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, key []byte, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTAuthenticator_AcceptsValidToken(t *testing.T) {
	key := []byte("test-signing-key")
	auth := NewJWTAuthenticator(key, nil, 1)

	tok := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		PlayerID:         42,
		DisplayName:      "Ada",
		Level:            7,
	})

	p, err := auth.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.EqualValues(t, 42, p.ID)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, 7, p.Level)
}

func TestJWTAuthenticator_RejectsWrongKey(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("real-key"), nil, 1)
	tok := signToken(t, []byte("wrong-key"), Claims{PlayerID: 1})

	_, err := auth.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTAuthenticator_RejectsExpiredToken(t *testing.T) {
	key := []byte("test-signing-key")
	auth := NewJWTAuthenticator(key, nil, 1)

	tok := signToken(t, key, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
		PlayerID:         1,
	})

	_, err := auth.Authenticate(context.Background(), tok)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTAuthenticator_RandomBotNameFallsBackWithoutList(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("k"), nil, 1)
	assert.Equal(t, "Word Bot", auth.RandomBotName("en"))
}

func TestJWTAuthenticator_RandomBotNameDrawsFromLanguageList(t *testing.T) {
	auth := NewJWTAuthenticator([]byte("k"), map[string][]string{"es": {"El Bot"}}, 1)
	assert.Equal(t, "El Bot", auth.RandomBotName("es"))
}
