package google

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// persistedToken is the on-disk shape of the credential pair.
// expiry_date is epoch milliseconds.
type persistedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"`
}

// TokenStore reads and writes the OAuth token pair to a single file.
// Writes go through a temp file and rename so a crash never leaves a
// partially written token behind.
type TokenStore struct {
	path string
}

// NewTokenStore creates a token store backed by the given file path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Load returns the stored token, or (nil, nil) when no token file
// exists yet. A corrupt file is an error.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file %s: %w", s.path, err)
	}

	var pt persistedToken
	if err := json.Unmarshal(data, &pt); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", s.path, err)
	}
	if pt.AccessToken == "" && pt.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no credential", s.path)
	}

	tok := &oauth2.Token{
		AccessToken:  pt.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: pt.RefreshToken,
	}
	if pt.ExpiryDate != 0 {
		tok.Expiry = time.UnixMilli(pt.ExpiryDate)
	}
	return tok, nil
}

// Save persists the token pair with owner-only permissions.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	pt := persistedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		pt.ExpiryDate = tok.Expiry.UnixMilli()
	}

	data, err := json.Marshal(pt)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating token directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing token file %s: %w", s.path, err)
	}
	return nil
}
