package google

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	expiry := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       expiry,
	}))

	tok, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(expiry))
}

func TestTokenStoreLoadMissing(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	tok, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewTokenStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing token file")
}

func TestTokenStoreLoadEmptyCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":""}`), 0o600))

	_, err := NewTokenStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no credential")
}

func TestTokenStoreFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewTokenStore(path)
	expiry := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       expiry,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "at", raw["access_token"])
	assert.Equal(t, "rt", raw["refresh_token"])
	assert.Equal(t, float64(expiry.UnixMilli()), raw["expiry_date"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestTokenStoreSaveWithoutExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewTokenStore(path)

	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "at"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasExpiry := raw["expiry_date"]
	assert.False(t, hasExpiry)
	_, hasRefresh := raw["refresh_token"]
	assert.False(t, hasRefresh)
}

func TestTokenStoreSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "token.json")
	store := NewTokenStore(path)

	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "at"}))

	tok, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
}
