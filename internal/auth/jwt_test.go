package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 1)
	userID := uuid.New()

	token, err := svc.Generate(userID, "alice@example.com", "Alice Doe")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "Alice Doe", claims.FullName)
}

func TestJWTValidateRejects(t *testing.T) {
	svc := NewJWTService("test-secret", 1)

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService("other-secret", 1)
		token, err := other.Generate(uuid.New(), "a@b.c", "A")
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := NewJWTService("test-secret", -1)
		token, err := expired.Generate(uuid.New(), "a@b.c", "A")
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pw")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pw", hash)

	assert.True(t, CheckPassword("s3cret-pw", hash))
	assert.False(t, CheckPassword("wrong", hash))
}
