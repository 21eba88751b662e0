package service

import (
	"time"

	"github.com/solsticehq/ember/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithTrackerShards sets the number of lock shards in the anti-gaming tracker.
func WithTrackerShards(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.trackerShards = count
		}
	}
}

// WithTrackerSweepInterval sets the tracker's memory sweep interval.
func WithTrackerSweepInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
