// Package worker defines worker contracts for asynchronous reward
// computation and commits.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/solsticehq/ember/internal/adapters/mq/queue"
	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/persistence"
	"github.com/solsticehq/ember/pkg/logger"
	"github.com/solsticehq/ember/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
	partitionBuffer         = 64
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Computer turns an event plus the actor's wallet into a reward decision.
type Computer interface {
	Compute(ctx context.Context, ev event.InteractionEvent, wallet event.WalletState) event.RewardDecision
}

// Store loads wallet state and applies decisions. Implemented by the
// persistence gate.
type Store interface {
	Wallet(ctx context.Context, actorID string) (event.WalletState, error)
	Commit(ctx context.Context, ev event.InteractionEvent, d event.RewardDecision) (persistence.Outcome, error)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// It will process any remaining events before stopping.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing events.
type InMemoryWorker struct {
	queue    Queue
	computer Computer
	store    Store
	name     string

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, computer Computer, store Store, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		computer: computer,
		store:    store,
		name:     "worker", // default name
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"), // will be updated by options
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	// Set up logger with worker name if not already set
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-eventChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}

			if err := w.processEvent(ctx, e); err != nil {
				w.logger.Error(ctx, "error processing event", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	// Signal shutdown
	close(w.shutdown)

	// Wait for worker to finish or context to timeout
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent handles a single event: load wallet, compute, commit. The
// persistence gate owns idempotency, so a redelivered event is a clean
// no-op here.
func (w *InMemoryWorker) processEvent(ctx context.Context, e Event) error {
	if !e.Kind.Valid() {
		metrics.RecordWorkerError()
		return fmt.Errorf("unknown interaction kind %q for actor %s", e.Kind, e.ActorID)
	}

	wallet, err := w.store.Wallet(ctx, e.ActorID)
	if err != nil {
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "wallet load failed",
			logger.String("actor", e.ActorID),
			logger.Error(err),
		)
		return fmt.Errorf("wallet load for %s: %w", e.ActorID, err)
	}

	decision := w.computer.Compute(ctx, e, wallet)

	outcome, err := w.store.Commit(ctx, e, decision)
	if err != nil {
		metrics.RecordWorkerError()
		w.logger.Error(ctx, "commit failed",
			logger.String("actor", e.ActorID),
			logger.Error(err),
		)
		return fmt.Errorf("commit for %s: %w", e.ActorID, err)
	}

	if outcome == persistence.OutcomeAlreadyApplied {
		metrics.RecordEventDuplicate()
		w.logger.Debug(ctx, "duplicate event skipped",
			logger.String("actor", e.ActorID),
			logger.String("kind", string(e.Kind)),
		)
		return nil
	}

	metrics.RecordEventProcessed(string(e.Kind))
	return nil
}

// Pool manages multiple workers. Events are routed to a worker by actor id,
// so one actor's events process in order and a wallet read never races the
// commit of another event for the same actor.
type Pool struct {
	workers    []*InMemoryWorker
	partitions []chan Event
	queue      Queue

	dispatcherDone chan struct{}

	// Logging
	logger logger.Logger
}

// partitionQueue adapts one per-worker channel to the Queue contract.
type partitionQueue chan Event

func (p partitionQueue) Dequeue(_ context.Context) <-chan Event { return p }

// NewPool creates a new worker pool.
func NewPool(workerCount int, q Queue, computer Computer, store Store) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:        make([]*InMemoryWorker, workerCount),
		partitions:     make([]chan Event, workerCount),
		queue:          q,
		dispatcherDone: make(chan struct{}),
		logger:         logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.partitions[i] = make(chan Event, partitionBuffer)
		pool.workers[i] = NewInMemoryWorker(
			partitionQueue(pool.partitions[i]),
			computer,
			store,
			WithName("worker-"+strconv.Itoa(i)),
		)
	}

	metrics.UpdateWorkerCount(workerCount)

	return pool
}

// Start starts all workers in the pool and the dispatcher feeding them.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	go p.dispatch(ctx)
}

// dispatch moves events from the shared queue to per-worker partitions
// selected by actor id. When the queue closes it drains the remainder, then
// closes every partition so the workers exit.
func (p *Pool) dispatch(ctx context.Context) {
	defer close(p.dispatcherDone)
	defer func() {
		for _, ch := range p.partitions {
			close(ch)
		}
	}()

	events := p.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			select {
			case p.partitions[p.partitionFor(e.ActorID)] <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) partitionFor(actorID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actorID))
	return int(h.Sum32()) % len(p.partitions)
}

// Shutdown gracefully shuts down the entire worker pool. Closing the queue
// lets in-flight and buffered events drain before the workers exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	// First close the queue to stop new events
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	// Wait for the dispatcher and all workers to finish or context to timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	select {
	case <-p.dispatcherDone:
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "dispatcher shutdown timed out")
	}

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	return nil
}
