package cache

import "github.com/solsticehq/ember/pkg/logger"

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithSubscribe sets the notification subscription factory. Without it the
// cache serves the startup snapshot and never reloads.
func WithSubscribe(fn SubscribeFunc) Option {
	return func(c *Cache) {
		c.subscribe = fn
	}
}

// WithChannels overrides the notification channels to subscribe to. Each
// must be on the table allow-list to have any effect on reload.
func WithChannels(channels []string) Option {
	return func(c *Cache) {
		if len(channels) > 0 {
			c.channels = channels
		}
	}
}

// WithLogger sets a custom logger for the cache.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}
