// Package logging builds the structured logger used across the export engine.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a zap logger. Verbose mode switches to the development config
// with debug level enabled; otherwise production JSON output at info level.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		log, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build development logger: %w", err)
		}
		return log, nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build production logger: %w", err)
	}
	return log, nil
}
