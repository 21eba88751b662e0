package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"
)

// Reconnect policy constants.
const (
	reconnectInitial = 1 * time.Second
	reconnectCeiling = 60 * time.Second
	reconnectJitter  = 0.2
)

// Subscription is one live attachment to the store's notification primitive.
// Notifications yields changed table names; an empty name means "anything may
// have changed" (driver reconnect gap). The channel closes when the
// subscription is lost.
type Subscription interface {
	Notifications() <-chan string
	Close() error
}

// SubscribeFunc dials one subscription attempt. The cache owns the retry
// loop; implementations should fail fast rather than reconnect internally.
type SubscribeFunc func(ctx context.Context, channels []string) (Subscription, error)

// newReconnectBackoff returns the listener's reconnect schedule: exponential
// from 1s doubling to a 60s ceiling with ±20% jitter.
func newReconnectBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitial
	bo.Multiplier = 2
	bo.MaxInterval = reconnectCeiling
	bo.RandomizationFactor = reconnectJitter
	return bo
}

// pqSubscription adapts a lib/pq listener to Subscription.
type pqSubscription struct {
	listener *pq.Listener
	out      chan string
	fail     chan struct{}
	failOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPQSubscribe returns a SubscribeFunc backed by Postgres LISTEN/NOTIFY on
// the given DSN. Each call dials a dedicated connection; a disconnect closes
// the subscription so the cache's backoff loop re-dials.
func NewPQSubscribe(dsn string) SubscribeFunc {
	return func(ctx context.Context, channels []string) (Subscription, error) {
		s := &pqSubscription{
			out:    make(chan string, 16),
			fail:   make(chan struct{}),
			closed: make(chan struct{}),
		}

		// The pq listener reconnects internally; we pin its interval high
		// and treat any disconnect as fatal for this subscription instead,
		// keeping reconnect policy (and jitter) in one place.
		s.listener = pq.NewListener(dsn, reconnectCeiling, reconnectCeiling,
			func(ev pq.ListenerEventType, _ error) {
				switch ev {
				case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
					s.failOnce.Do(func() { close(s.fail) })
				case pq.ListenerEventConnected, pq.ListenerEventReconnected:
				}
			})

		for _, ch := range channels {
			if err := s.listener.Listen(ch); err != nil {
				_ = s.listener.Close()
				return nil, fmt.Errorf("listen %q: %w", ch, err)
			}
		}

		go s.pump(ctx)
		return s, nil
	}
}

// pump forwards driver notifications until failure, close, or ctx end.
func (s *pqSubscription) pump(ctx context.Context) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.fail:
			return
		case <-s.closed:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			var table string
			if n != nil {
				table = n.Channel
			}
			select {
			case s.out <- table:
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			}
		}
	}
}

func (s *pqSubscription) Notifications() <-chan string {
	return s.out
}

func (s *pqSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.listener.Close()
	})
	return err
}
