// Package google owns the OAuth authorization lifecycle for the Gmail
// credential: client credential loading, durable token storage, the
// handoff between the sync loop and the HTTP callback, and the session
// manager that produces authorized HTTP clients on demand.
package google

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

// LoadClientCredential reads an OAuth client credential JSON file as
// downloaded from the Google console. Both the "installed" and "web"
// shapes are accepted and normalized into a single *oauth2.Config;
// the redirect URL is overridden to point at our own callback.
func LoadClientCredential(path, redirectURL string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client credential %s: %w", path, err)
	}

	conf, err := google.ConfigFromJSON(data, gmail.MailGoogleComScope)
	if err != nil {
		return nil, fmt.Errorf("parsing client credential %s: %w", path, err)
	}

	conf.RedirectURL = redirectURL
	return conf, nil
}
