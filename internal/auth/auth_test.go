package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/miniexchange/internal/models"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, CheckPasswordHash("hunter22", hash))
	assert.False(t, CheckPasswordHash("hunter23", hash))
	assert.False(t, CheckPasswordHash("hunter22", "not-a-bcrypt-hash"))
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret")
	user := &models.User{
		ID:       uuid.New(),
		Username: "alice",
		Role:     models.RoleAdmin,
	}

	signed, err := tokens.Generate(user)
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestTokensRejectsWrongSecret(t *testing.T) {
	signed, err := NewTokens("secret-a").Generate(&models.User{
		ID:       uuid.New(),
		Username: "bob",
		Role:     models.RoleUser,
	})
	require.NoError(t, err)

	_, err = NewTokens("secret-b").Validate(signed)
	assert.Error(t, err)
}

func TestTokensRejectsGarbage(t *testing.T) {
	_, err := NewTokens("secret").Validate("not.a.token")
	assert.Error(t, err)
}
