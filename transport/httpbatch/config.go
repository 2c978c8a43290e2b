package httpbatch

import "time"

// Config holds configuration for the HTTP batch transport.
type Config struct {
	// BaseURL is the server root (e.g., "http://localhost:2480").
	BaseURL string

	// Database is the database addressed by every call.
	Database string

	// Username and Password authenticate with HTTP basic auth.
	Username string
	Password string

	// TokenSecret switches authentication to an HS256 bearer token signed
	// with this secret, with Username as the subject.
	// Default: "" (basic auth)
	TokenSecret string

	// TokenTTL is the lifetime of issued bearer tokens.
	// Default: 5m
	TokenTTL time.Duration

	// Timeout bounds each HTTP call.
	// Default: 30s
	Timeout time.Duration

	// NoScripting marks a server that cannot execute multi-statement
	// transactional scripts. Such servers cannot run atomic batches.
	// Default: false
	NoScripting bool
}

// DefaultConfig returns defaults for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:2480",
		TokenTTL: 5 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:2480"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}
