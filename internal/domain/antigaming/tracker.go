// Package antigaming tracks interaction history to attenuate or zero rewards
// for gaming patterns: self-dealing, reaction farming, and viral bursts.
//
// All state is derived and ephemeral: it is rebuildable from the event stream,
// never persisted, and pruned lazily on access plus an optional periodic
// sweep. Evaluation is check-and-record in one critical section so two
// concurrent evaluations cannot both pass a cap check before either records.
package antigaming

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/pkg/metrics"
)

// Default tracker configuration constants.
const (
	defaultShardCount    = 32
	defaultSweepInterval = 5 * time.Minute
)

// Assessment is the outcome of evaluating one reaction-received event.
type Assessment struct {
	// ZeroReason is non-empty when a rule zeroed the reward entirely.
	ZeroReason string

	// UniqueReactors is the distinct reactor count on the message after this
	// event, within the reactor window.
	UniqueReactors int

	// CreditedReactors is the diminished credit for UniqueReactors.
	CreditedReactors int

	// VelocityCapped is set when the message is in a reaction burst; the
	// caller must cap the primary currency at XPCeiling.
	VelocityCapped bool
	XPCeiling      int64
}

// Zeroed reports whether the reward must be zero for both currencies.
func (a Assessment) Zeroed() bool { return a.ZeroReason != "" }

// msgState tracks recent distinct reactors on one message.
type msgState struct {
	createdAt time.Time
	reactors  map[string]time.Time
}

// shard holds the pair and message state for a slice of target actors. Both
// maps are keyed under one mutex so check-and-record is atomic per target.
type shard struct {
	mu       sync.Mutex
	pairs    map[string][]time.Time
	messages map[string]*msgState
}

// Tracker is the concurrent anti-gaming state tracker. State is sharded by
// target actor so unrelated actors never contend on a lock.
type Tracker struct {
	shards        []*shard
	shardCount    int
	sweepInterval time.Duration
	rules         func() Rules

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewTracker creates a tracker with configuration options.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		shardCount:    defaultShardCount,
		sweepInterval: defaultSweepInterval,
		rules:         DefaultRules,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(t)
	}

	t.shards = make([]*shard, t.shardCount)
	for i := range t.shards {
		t.shards[i] = &shard{
			pairs:    make(map[string][]time.Time),
			messages: make(map[string]*msgState),
		}
	}

	return t
}

// Start launches the periodic memory sweep. Optional: pruning also happens
// lazily on every evaluation.
func (t *Tracker) Start(ctx context.Context) {
	t.started = true
	go t.sweepLoop(ctx)
}

// Stop terminates the sweep loop.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	if t.started {
		<-t.done
	}
}

// EvaluateReaction applies the anti-gaming rules, in fixed order, to a
// reaction received by targetID from reactorID on messageID, and records the
// interaction when it is credited. The whole evaluation runs under the
// target's shard lock.
//
// Rule order: self-interaction filter, unique-reactor weighting, pair cap,
// diminishing returns, velocity cap.
func (t *Tracker) EvaluateReaction(_ context.Context, targetID, reactorID, messageID string, messageCreatedAt, now time.Time, rules Rules) Assessment {
	// Rule 1: self-interaction is never rewarded.
	if targetID == reactorID {
		return Assessment{ZeroReason: event.ZeroReasonSelfInteraction}
	}

	s := t.shardFor(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.messages[messageID]
	if m == nil {
		m = &msgState{createdAt: messageCreatedAt, reactors: make(map[string]time.Time)}
		if m.createdAt.IsZero() {
			m.createdAt = now
		}
		s.messages[messageID] = m
	}
	pruneReactors(m, now, rules.ReactorWindow)

	// Rule 2: only distinct reactors count. A repeat reactor inside the
	// window credits nothing and records nothing.
	if _, seen := m.reactors[reactorID]; seen {
		return Assessment{
			ZeroReason:       event.ZeroReasonRepeatReactor,
			UniqueReactors:   len(m.reactors),
			CreditedReactors: DiminishedCredit(len(m.reactors), rules.UniqueReactorThreshold),
		}
	}

	// Rule 3: the pair may produce at most PairCap credited interactions
	// inside the rolling window.
	pair := reactorID + "\x00" + targetID
	stamps := pruneStamps(s.pairs[pair], now, rules.PairWindow)
	if rules.PairCap > 0 && len(stamps) >= rules.PairCap {
		s.pairs[pair] = stamps
		return Assessment{ZeroReason: event.ZeroReasonPairCap, UniqueReactors: len(m.reactors)}
	}

	// Record: the reactor becomes part of the message's unique set and the
	// pair consumes one credited slot.
	m.reactors[reactorID] = now
	n := len(m.reactors)

	// Rule 4: diminishing returns. Beyond the threshold every other new
	// reactor credits nothing; the marginal credit is 0 or 1.
	credited := DiminishedCredit(n, rules.UniqueReactorThreshold)
	marginal := credited - DiminishedCredit(n-1, rules.UniqueReactorThreshold)
	if marginal == 0 {
		return Assessment{
			ZeroReason:       event.ZeroReasonDiminishingReturns,
			UniqueReactors:   n,
			CreditedReactors: credited,
		}
	}
	s.pairs[pair] = append(stamps, now)

	a := Assessment{UniqueReactors: n, CreditedReactors: credited}

	// Rule 5: velocity cap, a ceiling applied after diminishing returns.
	if rules.BurstThreshold > 0 && n > rules.BurstThreshold &&
		now.Sub(m.createdAt) <= rules.BurstWindow {
		a.VelocityCapped = true
		a.XPCeiling = rules.VelocityCeiling
	}

	return a
}

// RecordPairInteraction records a credited non-reaction interaction between a
// pair (e.g. a reply), consuming one pair-cap slot. Returns false when the
// pair is already at its cap.
func (t *Tracker) RecordPairInteraction(_ context.Context, actorID, targetID string, now time.Time, rules Rules) bool {
	if actorID == targetID {
		return false
	}
	s := t.shardFor(targetID)
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := actorID + "\x00" + targetID
	stamps := pruneStamps(s.pairs[pair], now, rules.PairWindow)
	if rules.PairCap > 0 && len(stamps) >= rules.PairCap {
		s.pairs[pair] = stamps
		return false
	}
	s.pairs[pair] = append(stamps, now)
	return true
}

// Stats returns the tracked pair and message counts across all shards.
func (t *Tracker) Stats() (pairs, messages int) {
	for _, s := range t.shards {
		s.mu.Lock()
		pairs += len(s.pairs)
		messages += len(s.messages)
		s.mu.Unlock()
	}
	return pairs, messages
}

func (t *Tracker) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.shards[int(h.Sum32())%t.shardCount]
}

// sweepLoop evicts expired state on a timer to keep memory bounded under very
// low traffic, where lazy pruning alone would never run.
func (t *Tracker) sweepLoop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweep(time.Now(), t.rules())
		}
	}
}

// sweep removes pairs and messages with no activity inside their windows.
func (t *Tracker) sweep(now time.Time, rules Rules) {
	totalPairs, totalMessages := 0, 0
	for _, s := range t.shards {
		s.mu.Lock()
		for key, stamps := range s.pairs {
			remaining := pruneStamps(stamps, now, rules.PairWindow)
			if len(remaining) == 0 {
				delete(s.pairs, key)
				continue
			}
			s.pairs[key] = remaining
		}
		for id, m := range s.messages {
			pruneReactors(m, now, rules.ReactorWindow)
			if len(m.reactors) == 0 && now.Sub(m.createdAt) > rules.BurstWindow {
				delete(s.messages, id)
			}
		}
		totalPairs += len(s.pairs)
		totalMessages += len(s.messages)
		s.mu.Unlock()
	}
	metrics.UpdateTrackedPairs(totalPairs)
	metrics.UpdateTrackedMessages(totalMessages)
}

// pruneStamps drops timestamps older than the window. Keeps order.
func pruneStamps(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	if window <= 0 {
		return stamps
	}
	cutoff := now.Add(-window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

func pruneReactors(m *msgState, now time.Time, window time.Duration) {
	if window <= 0 {
		return
	}
	cutoff := now.Add(-window)
	for id, ts := range m.reactors {
		if ts.Before(cutoff) {
			delete(m.reactors, id)
		}
	}
}
