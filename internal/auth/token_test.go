package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

func testUser() *model.User {
	return &model.User{
		UserID:      "u-1",
		Username:    "alice",
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		Permissions: []string{model.PermissionRead, model.PermissionWrite},
	}
}

func TestTokenRoundTrip(t *testing.T) {
	mgr := NewTokenManager("test-secret", time.Hour)

	token, err := mgr.Generate(testUser())
	require.NoError(t, err)

	claims, err := mgr.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{model.PermissionRead, model.PermissionWrite}, claims.Permissions)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenExpired(t *testing.T) {
	mgr := NewTokenManager("test-secret", -time.Minute)

	token, err := mgr.Generate(testUser())
	require.NoError(t, err)

	_, err = mgr.Verify(token)
	assert.Error(t, err)
}

func TestTokenWrongSecret(t *testing.T) {
	mgr := NewTokenManager("test-secret", time.Hour)
	other := NewTokenManager("other-secret", time.Hour)

	token, err := mgr.Generate(testUser())
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenGarbageRejected(t *testing.T) {
	mgr := NewTokenManager("test-secret", time.Hour)

	for _, token := range []string{"", "abc", "a.b.c"} {
		_, err := mgr.Verify(token)
		assert.Error(t, err, "token %q", token)
	}
}
