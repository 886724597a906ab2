package google

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
)

func writeCredential(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadClientCredentialInstalled(t *testing.T) {
	path := writeCredential(t, `{
		"installed": {
			"client_id": "id.apps.googleusercontent.com",
			"client_secret": "secret",
			"auth_uri": "https://accounts.google.com/o/oauth2/auth",
			"token_uri": "https://oauth2.googleapis.com/token",
			"redirect_uris": ["http://localhost"]
		}
	}`)

	conf, err := LoadClientCredential(path, "http://localhost:8080/oauth2callback")
	require.NoError(t, err)
	assert.Equal(t, "id.apps.googleusercontent.com", conf.ClientID)
	assert.Equal(t, "secret", conf.ClientSecret)
	assert.Equal(t, []string{gmail.MailGoogleComScope}, conf.Scopes)

	// The file's redirect URIs are ignored; ours wins.
	assert.Equal(t, "http://localhost:8080/oauth2callback", conf.RedirectURL)
}

func TestLoadClientCredentialWeb(t *testing.T) {
	path := writeCredential(t, `{
		"web": {
			"client_id": "web-id.apps.googleusercontent.com",
			"client_secret": "web-secret",
			"auth_uri": "https://accounts.google.com/o/oauth2/auth",
			"token_uri": "https://oauth2.googleapis.com/token",
			"redirect_uris": ["https://old.example.com/cb"]
		}
	}`)

	conf, err := LoadClientCredential(path, "https://mail.example.com/oauth2callback")
	require.NoError(t, err)
	assert.Equal(t, "web-id.apps.googleusercontent.com", conf.ClientID)
	assert.Equal(t, "https://mail.example.com/oauth2callback", conf.RedirectURL)
}

func TestLoadClientCredentialErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadClientCredential(filepath.Join(t.TempDir(), "nope.json"), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading client credential")
	})

	t.Run("unknown shape", func(t *testing.T) {
		_, err := LoadClientCredential(writeCredential(t, `{"something": {}}`), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing client credential")
	})
}
