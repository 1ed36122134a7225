package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateValidate(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, expiresAt, err := m.Generate("42", "Ada", "twitter")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, "twitter", claims.Provider)
	assert.Equal(t, "twitter:42", claims.Subject)
	assert.Equal(t, "storefront", claims.Issuer)
}

func TestJWTManager_WrongSecret(t *testing.T) {
	token, _, err := NewJWTManager("a", time.Hour).Generate("1", "", "twitter")
	require.NoError(t, err)

	_, err = NewJWTManager("b", time.Hour).Validate(token)
	assert.Error(t, err)
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := m.Generate("1", "", "twitter")
	require.NoError(t, err)

	_, err = NewJWTManager("secret", time.Minute).Validate(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTManager_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "1", RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer}})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTManager("secret", time.Hour).Validate(raw)
	assert.Error(t, err)
}

func TestJWTManager_TokenValidator(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, _, err := m.Generate("7", "Grace", "twitter")
	require.NoError(t, err)

	claims, err := m.TokenValidator()(token)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.UserID)
	assert.Equal(t, "Grace", claims.Name)

	_, err = m.TokenValidator()("garbage")
	assert.Error(t, err)
}
