package persistence

import "github.com/solsticehq/ember/pkg/logger"

// Option applies a configuration option to the Gate.
type Option func(*Gate)

// WithSourceSystem sets the source system recorded for events that arrive
// without a deduplication key.
func WithSourceSystem(source string) Option {
	return func(g *Gate) {
		if source != "" {
			g.source = source
		}
	}
}

// WithLogger sets a custom logger for the gate.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}
