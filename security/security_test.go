package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/7D-Solutions/gaugecore/auth"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.NoError(t, VerifyPassword(hash, "correct horse battery staple"))
	assert.ErrorIs(t, VerifyPassword(hash, "wrong"), bcrypt.ErrMismatchedHashAndPassword)
}

func TestHashPasswordWithCost(t *testing.T) {
	hash, err := HashPasswordWithCost("secret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, VerifyPassword(hash, "secret"))

	_, err = HashPasswordWithCost("secret", bcrypt.MaxCost+1)
	assert.Error(t, err)
}

func TestNeedsRehash(t *testing.T) {
	hash, err := HashPasswordWithCost("secret", bcrypt.MinCost)
	require.NoError(t, err)

	needs, err := NeedsRehash(hash, bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, needs)

	needs, err = NeedsRehash(hash, DefaultBcryptCost)
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")

	signed, err := svc.GenerateToken("u-1", auth.RoleOperator, time.Hour)
	require.NoError(t, err)

	caller, err := svc.CallerFromToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "u-1", caller.UserID)
	assert.Equal(t, auth.RoleOperator, caller.Role)
	assert.True(t, caller.Has(auth.CapGaugeOperate))
	assert.False(t, caller.Has(auth.CapGaugeManage))
}

func TestTokenRejection(t *testing.T) {
	svc := NewJWTService("test-secret")

	t.Run("WrongSecret", func(t *testing.T) {
		signed, err := NewJWTService("other-secret").GenerateToken("u-1", auth.RoleOperator, time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateToken(signed)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		signed, err := svc.GenerateToken("u-1", auth.RoleOperator, -time.Minute)
		require.NoError(t, err)
		_, err = svc.ValidateToken(signed)
		assert.Error(t, err)
	})

	t.Run("UnknownRole", func(t *testing.T) {
		signed, err := svc.GenerateToken("u-1", "superuser", time.Hour)
		require.NoError(t, err)
		_, err = svc.CallerFromToken(signed)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}
