// Package config loads and validates the mailferry run configuration.
//
// The configuration is a single TOML file with the HTTP listener
// settings, the Google credential/token locations, the stats file
// location and one [[accounts]] table per POP3 mailbox to drain.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport security modes for the POP3 connection.
const (
	// SecurityPlain connects without encryption.
	SecurityPlain = "plain"
	// SecurityTLS encrypts from connect (POP3S, usually port 995).
	SecurityTLS = "tls"
)

// Defaults applied by Load when the file leaves a field empty.
const (
	DefaultHTTPAddr     = ":8080"
	DefaultInterval     = 10 * time.Minute
	DefaultCallbackPath = "/oauth2callback"

	defaultPlainPort = 110
	defaultTLSPort   = 995
)

// ValidationError is a fatal configuration problem. The daemon refuses
// to start rather than run with a partial account list.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Account describes one POP3 mailbox to drain. Immutable for a run.
// The account name is the identity key for stats and logging.
type Account struct {
	Name          string `toml:"name"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	Security      string `toml:"security"`        // "plain" or "tls"
	TLSSkipVerify bool   `toml:"tls_skip_verify"` // accept self-signed certificates
	Label         string `toml:"label"`           // Gmail label; defaults to the account name
}

// HTTP holds the status listener settings.
type HTTP struct {
	Addr string `toml:"addr"`
	// BaseURL is the externally visible URL prefix used to build the
	// OAuth redirect target. Defaults to http://localhost<addr>.
	BaseURL string `toml:"base_url"`
}

// Google holds the credential and token file locations.
type Google struct {
	// CredentialsFile is the OAuth client credential JSON as downloaded
	// from the Google console (either the "installed" or "web" shape).
	CredentialsFile string `toml:"credentials_file"`
	// TokenFile is where the acquired access/refresh token pair is kept.
	TokenFile string `toml:"token_file"`
	// CallbackPath is the redirect target path served by the status
	// listener. Defaults to /oauth2callback.
	CallbackPath string `toml:"callback_path"`
}

// Stats holds the durable import-history location.
type Stats struct {
	File string `toml:"file"`
}

// Config is the full run configuration.
type Config struct {
	Interval time.Duration `toml:"-"`
	// IntervalRaw is the TOML-facing sleep interval between cycles,
	// e.g. "10m" or "1h".
	IntervalRaw string `toml:"interval"`

	HTTP     HTTP      `toml:"http"`
	Google   Google    `toml:"google"`
	Stats    Stats     `toml:"stats"`
	Accounts []Account `toml:"accounts"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.IntervalRaw == "" {
		c.Interval = DefaultInterval
	} else {
		d, err := time.ParseDuration(c.IntervalRaw)
		if err != nil {
			return &ValidationError{Field: "interval", Reason: fmt.Sprintf("invalid duration %q", c.IntervalRaw)}
		}
		c.Interval = d
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.BaseURL == "" {
		addr := c.HTTP.Addr
		if addr[0] == ':' {
			addr = "localhost" + addr
		}
		c.HTTP.BaseURL = "http://" + addr
	}
	if c.Google.CallbackPath == "" {
		c.Google.CallbackPath = DefaultCallbackPath
	}

	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Security == "" {
			a.Security = SecurityTLS
		}
		if a.Port == 0 {
			if a.Security == SecurityTLS {
				a.Port = defaultTLSPort
			} else {
				a.Port = defaultPlainPort
			}
		}
		if a.Label == "" {
			a.Label = a.Name
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Interval <= 0 {
		return &ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if c.Google.CredentialsFile == "" {
		return &ValidationError{Field: "google.credentials_file", Reason: "required"}
	}
	if c.Google.TokenFile == "" {
		return &ValidationError{Field: "google.token_file", Reason: "required"}
	}
	if c.Stats.File == "" {
		return &ValidationError{Field: "stats.file", Reason: "required"}
	}
	if len(c.Accounts) == 0 {
		return &ValidationError{Field: "accounts", Reason: "at least one account is required"}
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		field := fmt.Sprintf("accounts[%d]", i)
		if a.Name == "" {
			return &ValidationError{Field: field + ".name", Reason: "required"}
		}
		if seen[a.Name] {
			return &ValidationError{Field: field + ".name", Reason: fmt.Sprintf("duplicate account name %q", a.Name)}
		}
		seen[a.Name] = true
		if a.Host == "" {
			return &ValidationError{Field: field + ".host", Reason: "required"}
		}
		if a.Username == "" {
			return &ValidationError{Field: field + ".username", Reason: "required"}
		}
		switch a.Security {
		case SecurityPlain, SecurityTLS:
		case "starttls":
			// The POP3 client library speaks implicit TLS only. Refuse
			// the value instead of silently downgrading the connection.
			return &ValidationError{Field: field + ".security", Reason: `"starttls" is not supported, use "tls"`}
		default:
			return &ValidationError{Field: field + ".security", Reason: fmt.Sprintf("unknown mode %q", a.Security)}
		}
	}
	return nil
}
