package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duochat/internal/models"
)

func TestUserStoreCreateAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store := NewUserStore(path)

	_, err := store.Get("alice")
	require.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, store.Create(models.User{Username: "alice", Password: "hash", Email: "a@example.com", EmailPassword: "app"}))
	require.ErrorIs(t, store.Create(models.User{Username: "alice", Password: "other"}), ErrUserExists)

	u, err := store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "hash", u.Password)
	assert.True(t, u.HasMailCredentials())

	require.NoError(t, store.UpdatePassword("alice", "new-hash"))
	u, err = store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.Password)
	require.ErrorIs(t, store.UpdatePassword("bob", "x"), ErrUserNotFound)
}

func TestUserStoreReadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	legacy := `{
    "carol": {
        "password": "plain",
        "email": "",
        "email_password": ""
    }
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	store := NewUserStore(path)
	u, err := store.Get("carol")
	require.NoError(t, err)
	assert.Equal(t, "plain", u.Password)
	assert.False(t, u.HasMailCredentials())

	require.NoError(t, store.Create(models.User{Username: "dave", Password: "p"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"carol"`)
	assert.Contains(t, string(data), `"dave"`)
}
