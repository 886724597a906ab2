package instrumentation

import (
	"os"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: mailferry)
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// ServiceInstanceID is the unique instance identifier (default: hostname)
	ServiceInstanceID string

	// Enabled determines if instrumentation is active (default: true)
	// Set to false via INSTRUMENTATION_ENABLED=false to disable metrics
	Enabled bool
}

// DefaultConfig returns the default instrumentation configuration,
// with overrides applied from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		ServiceName: "mailferry",
		Enabled:     true,
	}

	if os.Getenv("INSTRUMENTATION_ENABLED") == "false" {
		cfg.Enabled = false
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}

	return cfg
}
