// Package service wires the reward system together: configuration cache,
// anti-gaming tracker, reward pipeline, event queue, and worker pool.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/solsticehq/ember/internal/adapters/mq/queue"
	workerpool "github.com/solsticehq/ember/internal/adapters/mq/worker"
	"github.com/solsticehq/ember/internal/cache"
	"github.com/solsticehq/ember/internal/domain/antigaming"
	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/pipeline"
	"github.com/solsticehq/ember/pkg/logger"
	"github.com/solsticehq/ember/pkg/metrics"
)

// Service implements the reward system's application surface.
type Service struct {
	mu sync.RWMutex

	// Core components
	configCache *cache.Cache
	store       workerpool.Store
	tracker     *antigaming.Tracker
	rewards     *pipeline.Pipeline
	eventQueue  eventqueue.Queue
	workerPool  *workerpool.Pool

	// Configuration
	workerCount   int
	queueSize     int
	trackerShards int
	sweepInterval time.Duration

	// State
	started bool

	// Logging
	logger logger.Logger
}

// New constructs a new Service over the given configuration cache and
// persistence store.
func New(configCache *cache.Cache, store workerpool.Store, opts ...Option) *Service {
	s := &Service{
		configCache: configCache,
		store:       store,
		workerCount: runtime.NumCPU() * 4,
		queueSize:   100000,
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting reward service...")

	if err := s.configCache.Start(ctx); err != nil {
		return err
	}

	trackerOpts := []antigaming.Option{
		antigaming.WithRulesSource(s.configCache.Rules),
	}
	if s.trackerShards > 0 {
		trackerOpts = append(trackerOpts, antigaming.WithShardCount(s.trackerShards))
	}
	if s.sweepInterval > 0 {
		trackerOpts = append(trackerOpts, antigaming.WithSweepInterval(s.sweepInterval))
	}
	s.tracker = antigaming.NewTracker(trackerOpts...)
	s.tracker.Start(ctx)

	s.rewards = pipeline.New(s.configCache, s.tracker)

	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.rewards, s.store)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "reward service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)

	return nil
}

// Stop gracefully shuts down the service. Buffered events drain before the
// workers exit so accepted rewards are not lost.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping reward service...")

	if s.workerPool != nil {
		_ = s.workerPool.Shutdown(ctx)
	}
	if s.tracker != nil {
		s.tracker.Stop()
	}
	s.configCache.Stop()

	s.started = false
	s.logger.Info(ctx, "reward service stopped")
}

// Enqueue submits an interaction event for asynchronous processing.
func (s *Service) Enqueue(ctx context.Context, e event.InteractionEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return eventqueue.ErrQueueClosed
	}
	if !e.Kind.Valid() {
		return event.ErrUnknownKind
	}
	if !s.eventQueue.Enqueue(ctx, e) {
		if s.eventQueue.IsClosed() {
			return eventqueue.ErrQueueClosed
		}
		return eventqueue.ErrQueueFull
	}
	return nil
}

// Healthy reports whether the service can compute correct rewards: the
// configuration cache is consistent and the queue accepts events.
func (s *Service) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return false
	}
	return s.configCache.Healthy() && !s.eventQueue.IsClosed()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}

	if s.started {
		ctx := context.Background()
		queueLen := s.eventQueue.Len(ctx)
		pairs, messages := s.tracker.Stats()

		stats["queueLength"] = queueLen
		stats["trackedPairs"] = pairs
		stats["trackedMessages"] = messages
		stats["cacheHealthy"] = s.configCache.Healthy()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateTrackedPairs(pairs)
		metrics.UpdateTrackedMessages(messages)
	}

	return stats
}
