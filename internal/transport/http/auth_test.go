package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_TokenRoundTrip(t *testing.T) {
	auth := NewAuth("test-secret")

	token, err := auth.IssueToken("user-1", "user@example.com", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestAuth_RejectsExpiredToken(t *testing.T) {
	auth := NewAuth("test-secret")

	token, err := auth.IssueToken("user-1", "", "", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ParseToken(token)
	assert.Error(t, err)
}

func TestAuth_RejectsForeignSignature(t *testing.T) {
	auth := NewAuth("test-secret")
	other := NewAuth("other-secret")

	token, err := other.IssueToken("user-1", "", "", time.Hour)
	require.NoError(t, err)

	_, err = auth.ParseToken(token)
	assert.Error(t, err)
}
