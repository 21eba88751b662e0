package antigaming

import "time"

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithShardCount sets the number of lock shards.
func WithShardCount(count int) Option {
	return func(t *Tracker) {
		if count > 0 {
			t.shardCount = count
		}
	}
}

// WithSweepInterval sets the interval of the periodic memory sweep.
func WithSweepInterval(interval time.Duration) Option {
	return func(t *Tracker) {
		if interval > 0 {
			t.sweepInterval = interval
		}
	}
}

// WithRulesSource sets where the periodic sweep reads its pruning windows
// from, so administrative window changes apply without a restart. Defaults to
// the compiled-in rules.
func WithRulesSource(fn func() Rules) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.rules = fn
		}
	}
}
