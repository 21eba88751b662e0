// Package cache maintains an in-memory, thread-safe snapshot of tunable
// reward parameters, kept current via LISTEN/NOTIFY change notifications
// from the store.
//
// Single-writer/many-reader: the background listener is the sole writer of
// the snapshot pointer; readers load an atomically-swapped immutable
// reference and never block on reload work. While the listener is
// disconnected, reads serve the last-known snapshot (stale-but-available).
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solsticehq/ember/internal/domain/antigaming"
	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/domain/leveling"
	"github.com/solsticehq/ember/internal/domain/quality"
	"github.com/solsticehq/ember/pkg/logger"
	"github.com/solsticehq/ember/pkg/metrics"
)

// Configuration table names accepted over the notification channel. Names
// outside this allow-list are rejected before any query is constructed.
const (
	TableZones        = "zones"
	TableMultipliers  = "zone_multipliers"
	TableSettings     = "settings"
	TableAchievements = "achievements"
)

var allowedTables = map[string]bool{
	TableZones:        true,
	TableMultipliers:  true,
	TableSettings:     true,
	TableAchievements: true,
}

// AllowedTables returns the notification allow-list.
func AllowedTables() []string {
	return []string{TableZones, TableMultipliers, TableSettings, TableAchievements}
}

// Store loads configuration partitions from the durable store.
type Store interface {
	Zones(ctx context.Context) (map[string]string, error)
	Multipliers(ctx context.Context) (map[MultiplierKey]Multiplier, error)
	Settings(ctx context.Context) (Settings, error)
	Achievements(ctx context.Context) ([]leveling.Achievement, error)
}

// Cache is the configuration cache with an explicit Start/Stop lifecycle.
// Construct one and inject it into the pipeline; there is no ambient global.
type Cache struct {
	store     Store
	subscribe SubscribeFunc
	channels  []string

	snap    atomic.Pointer[Snapshot]
	healthy atomic.Bool

	// reloadMu serializes snapshot writers (startup load, listener reloads).
	reloadMu sync.Mutex

	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// New creates a Cache reading from store, with configuration options.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		channels: AllowedTables(),
		done:     make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.Get().Named("config-cache")
	}

	c.snap.Store(emptySnapshot())
	return c
}

// Start performs the full synchronous load and launches the notification
// listener. The listener runs until Stop.
func (c *Cache) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	if err := c.reloadAll(ctx); err != nil {
		return fmt.Errorf("initial configuration load: %w", err)
	}

	if c.subscribe == nil {
		// No subscription configured (tests, one-shot tools): reads serve
		// the startup snapshot and the cache counts as healthy.
		c.healthy.Store(true)
		close(c.done)
		c.started = true
		return nil
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go c.listen(listenCtx)

	c.started = true
	return nil
}

// Stop cancels the listener and waits for it to exit. No orphaned
// connections survive Stop.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		if !c.started {
			return
		}
		if c.cancel != nil {
			c.cancel()
		}
		<-c.done
	})
}

// Healthy reports listener liveness: false whenever the most recent
// reconnect attempt is still pending. Reads remain served either way.
func (c *Cache) Healthy() bool {
	return c.healthy.Load()
}

// ZoneForChannel resolves a channel to its zone. The second return is false
// for unmapped channels, which use the default zone (identity multipliers).
func (c *Cache) ZoneForChannel(channelID string) (string, bool) {
	zone, ok := c.snap.Load().Zones[channelID]
	return zone, ok
}

// Multipliers returns the scaling factors for (zone, kind), identity when no
// explicit row exists.
func (c *Cache) Multipliers(zone string, kind event.Kind) (xp, embers float64) {
	m, ok := c.snap.Load().Multipliers[MultiplierKey{Zone: zone, Kind: kind}]
	if !ok {
		return IdentityMultiplier.XP, IdentityMultiplier.Embers
	}
	return m.XP, m.Embers
}

// QualityThresholds returns the current quality scoring parameters.
func (c *Cache) QualityThresholds() quality.Thresholds {
	return c.snap.Load().Settings.Quality
}

// Rules returns the current anti-gaming thresholds.
func (c *Cache) Rules() antigaming.Rules {
	return c.snap.Load().Settings.Rules
}

// Curve returns the current leveling parameters.
func (c *Cache) Curve() leveling.Curve {
	return c.snap.Load().Settings.Curve
}

// Achievements returns the active achievement definitions.
func (c *Cache) Achievements() []leveling.Achievement {
	return c.snap.Load().Achievements
}

// reloadAll reloads every partition and swaps in one new snapshot.
func (c *Cache) reloadAll(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	next := c.snap.Load().clone()
	var firstErr error
	for _, table := range AllowedTables() {
		if err := c.loadInto(ctx, next, table); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	if firstErr != nil {
		// Partial results still swap in: a failed partition keeps its
		// previous value rather than aborting unrelated keys.
		c.snap.Store(next)
		return firstErr
	}
	c.snap.Store(next)
	return nil
}

// reload reloads a single table's partition and swaps the snapshot.
func (c *Cache) reload(ctx context.Context, table string) error {
	if !allowedTables[table] {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	next := c.snap.Load().clone()
	if err := c.loadInto(ctx, next, table); err != nil {
		return err
	}
	c.snap.Store(next)
	return nil
}

// loadInto loads one partition into next. A load error leaves the previous
// partition in place.
func (c *Cache) loadInto(ctx context.Context, next *Snapshot, table string) error {
	switch table {
	case TableZones:
		zones, err := c.store.Zones(ctx)
		if err != nil {
			return fmt.Errorf("load zones: %w", err)
		}
		next.Zones = zones
	case TableMultipliers:
		mults, err := c.store.Multipliers(ctx)
		if err != nil {
			return fmt.Errorf("load zone multipliers: %w", err)
		}
		next.Multipliers = mults
	case TableSettings:
		settings, err := c.store.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		next.Settings = settings
	case TableAchievements:
		defs, err := c.store.Achievements(ctx)
		if err != nil {
			return fmt.Errorf("load achievements: %w", err)
		}
		next.Achievements = defs
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// listen holds the long-lived subscription, reconnecting with exponential
// backoff (1s doubling to 60s, ±20% jitter) on any drop.
func (c *Cache) listen(ctx context.Context) {
	defer close(c.done)

	bo := newReconnectBackoff()
	for {
		sub, err := c.subscribe(ctx, c.channels)
		if err != nil {
			c.healthy.Store(false)
			metrics.UpdateListenerConnected(false)
			wait := bo.NextBackOff()
			c.logger.Warn(ctx, "notification subscribe failed; retrying",
				logger.Error(err),
				logger.Any("wait", wait),
			)
			metrics.RecordListenerReconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		c.healthy.Store(true)
		metrics.UpdateListenerConnected(true)
		bo.Reset()

		// Close the gap: notifications delivered while disconnected are
		// gone, so reload everything after (re)connecting.
		if err := c.reloadAll(ctx); err != nil {
			metrics.RecordCacheReloadError()
			c.logger.Warn(ctx, "post-connect reload failed; serving previous snapshot", logger.Error(err))
		}

		c.consume(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}

		c.healthy.Store(false)
		metrics.UpdateListenerConnected(false)
		wait := bo.NextBackOff()
		c.logger.Warn(ctx, "notification subscription lost; reconnecting",
			logger.Any("wait", wait),
		)
		metrics.RecordListenerReconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// consume drains notifications until the subscription fails or ctx ends.
func (c *Cache) consume(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case table, ok := <-sub.Notifications():
			if !ok {
				return
			}
			if table == "" {
				// Reconnect gap marker from the driver: anything may have
				// changed while the connection was down.
				if err := c.reloadAll(ctx); err != nil {
					metrics.RecordCacheReloadError()
					c.logger.Warn(ctx, "full reload failed", logger.Error(err))
				}
				continue
			}
			if !allowedTables[table] {
				// Security-relevant anomaly: someone NOTIFYed a name we
				// would otherwise interpolate into a query.
				metrics.RecordNotificationRejected()
				c.logger.Warn(ctx, "rejected notification for table outside allow-list",
					logger.String("table", table),
				)
				continue
			}
			if err := c.reload(ctx, table); err != nil {
				metrics.RecordCacheReloadError()
				c.logger.Warn(ctx, "partition reload failed; serving previous snapshot",
					logger.String("table", table),
					logger.Error(err),
				)
				continue
			}
			metrics.RecordCacheReload(table)
			c.logger.Debug(ctx, "configuration partition reloaded", logger.String("table", table))
		}
	}
}
