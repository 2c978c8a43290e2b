package odm

import "log/slog"

// Config holds configuration for a UnitOfWork.
type Config struct {
	// RejectCycles fails a commit whose type dependencies form a cycle.
	// When false, the cycle is logged and the traversal is truncated at the
	// back edge; links that point forward in the batch are written by
	// trailing updates.
	// Default: false
	RejectCycles bool

	// Logger receives commit diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records commit counters and timings. Optional.
	Metrics *Metrics

	// Listeners receive lifecycle events synchronously.
	Listeners []Listener
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Logger: slog.Default(),
	}
}

// validate fills in defaults.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
