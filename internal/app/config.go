package app

import "fmt"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPath points at an optional HCL deployment config; empty runs
	// on the built-in defaults.
	ConfigPath string

	LogFormat string
	LogLevel  string

	// Port and MaxWorkers override the config file when set; zero keeps
	// the file's (or default) value.
	Port       int
	MaxWorkers int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port must be in [0, 65535], got %d", cfg.Port)
	}
	if cfg.MaxWorkers < 0 {
		return nil, fmt.Errorf("max-workers must be >= 0, got %d", cfg.MaxWorkers)
	}
	return &cfg, nil
}
