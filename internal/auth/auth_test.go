package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)

	token, err := m.GenerateToken(42, "admin")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "admin", claims.Role)
}

func TestValidateToken_Rejects(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	token, err := m.GenerateToken(7, "customer")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewTokenManager("other", time.Hour).ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokenManager("test-secret", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.ValidateToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "7"})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.ValidateToken(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("bad subject", func(t *testing.T) {
		bad := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "abc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}})
		s, err := bad.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = m.ValidateToken(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestResetToken(t *testing.T) {
	token, hash := NewResetToken()
	assert.Len(t, token, 64)
	assert.Len(t, hash, 64)
	assert.NotEqual(t, token, hash)
	assert.Equal(t, hash, HashResetToken(" "+token+"\n"))

	other, _ := NewResetToken()
	assert.NotEqual(t, token, other)
}
