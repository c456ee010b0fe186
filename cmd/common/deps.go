// Package common provides shared utilities for command implementations.
package common

import (
	"fmt"

	"github.com/blogsearch/ingestor/internal/config"
	"github.com/blogsearch/ingestor/internal/logger"
)

// CommandDeps holds common dependencies for all commands.
// Use this instead of context.Value for type-safe dependency injection.
type CommandDeps struct {
	Logger logger.Interface
	Config *config.Config
}

// NewCommandDeps loads configuration and builds the logger. The debug
// flag forces debug-level console logging regardless of configuration.
func NewCommandDeps(cfgFile string, debug bool) (*CommandDeps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if debug {
		cfg.Logger.Level = "debug"
		cfg.Logger.Development = true
		cfg.Logger.Encoding = "console"
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	deps := &CommandDeps{
		Logger: log,
		Config: cfg,
	}
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	return deps, nil
}

// Validate ensures all required dependencies are present.
func (d *CommandDeps) Validate() error {
	if d.Logger == nil {
		return ErrLoggerRequired
	}
	if d.Config == nil {
		return ErrConfigRequired
	}
	return nil
}
