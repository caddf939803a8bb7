package sqslistener

import "github.com/our-edu/go-sqs-listener/internal/config"

// Config holds all configuration for the listener container
type Config = config.Config

// ListenerConfig holds the defaults applied to every registered listener
type ListenerConfig = config.ListenerConfig

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig loads configuration from a .env file and environment variables.
//
// Example:
//
//	container, err := sqslistener.New(
//	    sqslistener.WithConfig(sqslistener.LoadConfig()),
//	)
func LoadConfig() *Config {
	return config.Load()
}
