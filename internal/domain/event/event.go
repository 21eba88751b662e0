// Package event contains the domain models passed between pipeline layers.
package event

import "time"

// Kind enumerates the interaction kinds the core understands.
type Kind string

// Interaction kinds.
const (
	KindMessage          Kind = "message"
	KindReactionGiven    Kind = "reaction_given"
	KindReactionReceived Kind = "reaction_received"
	KindThreadCreate     Kind = "thread_create"
	KindVoiceTick        Kind = "voice_tick"
	KindManualAward      Kind = "manual_award"
)

// Valid reports whether k is a known interaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindReactionGiven, KindReactionReceived,
		KindThreadCreate, KindVoiceTick, KindManualAward:
		return true
	}
	return false
}

// DedupKey is the natural identity of an upstream event. Events without a
// stable external identity (periodic voice ticks) carry none and are credited
// at-least-once.
type DedupKey struct {
	SourceSystem  string
	SourceEventID string
}

// Meta carries kind-specific event metadata. Only the fields relevant to the
// event's kind are populated.
type Meta struct {
	// Message fields
	MessageLen    int
	HasCodeBlock  bool
	HasLink       bool
	HasAttachment bool
	// RepetitionRatio is the spam indicator in [0,1]; higher means more
	// repeated content.
	RepetitionRatio float64

	// Reaction fields
	MessageID        string
	ReactorID        string // who gave the reaction
	MessageCreatedAt time.Time

	// Thread fields
	ParentAuthorID string // author of the message the thread grew from

	// Manual award fields
	XPAward     int64
	EmbersAward int64
}

// InteractionEvent is an immutable fact describing what happened upstream.
// Created once per delivered event; never mutated.
type InteractionEvent struct {
	ActorID   string
	Kind      Kind
	ChannelID string
	Dedup     *DedupKey // nil when the event has no stable identity
	Meta      Meta
	At        time.Time
}

// BaseReward is the per-kind starting value before multipliers and modifiers.
type BaseReward struct {
	XP     int64
	Embers int64
}

// baseRewards is the fixed per-kind base table. Manual awards carry their
// amounts in Meta and have no base.
var baseRewards = map[Kind]BaseReward{
	KindMessage:          {XP: 15, Embers: 5},
	KindReactionGiven:    {XP: 2, Embers: 1},
	KindReactionReceived: {XP: 5, Embers: 3},
	KindThreadCreate:     {XP: 20, Embers: 8},
	KindVoiceTick:        {XP: 3, Embers: 2},
}

// BaseFor returns the base reward for a kind. Unknown kinds and manual awards
// return a zero base.
func BaseFor(k Kind) BaseReward {
	return baseRewards[k]
}

// Zero reasons attached to a RewardDecision when an anti-gaming rule fired.
const (
	ZeroReasonSelfInteraction    = "self_interaction"
	ZeroReasonRepeatReactor      = "repeat_reactor"
	ZeroReasonPairCap            = "pair_cap"
	ZeroReasonDiminishingReturns = "diminishing_returns"
)

// RewardDecision is the pipeline's output, consumed exactly once by the
// persistence gate.
type RewardDecision struct {
	XPDelta     int64
	EmbersDelta int64

	LeveledUp  bool
	NewLevel   int
	LevelBonus int64 // one-time spendable bonus, already included in EmbersDelta

	Zone           string
	ZeroReason     string // non-empty when an anti-gaming rule zeroed the reward
	VelocityCapped bool

	// Achievements newly qualified by this event's updated counters.
	Achievements []string
}

// Zeroed reports whether an anti-gaming rule zeroed both currencies.
func (d RewardDecision) Zeroed() bool {
	return d.ZeroReason != ""
}

// Counter names tracked per actor.
const (
	CounterXPTotal           = "xp_total"
	CounterMessages          = "messages"
	CounterReactionsGiven    = "reactions_given"
	CounterReactionsReceived = "reactions_received"
	CounterThreads           = "threads"
	CounterVoiceTicks        = "voice_ticks"
	CounterLevel             = "level"
)

// CounterFor maps an interaction kind to the counter it advances; empty for
// kinds with no counter.
func CounterFor(k Kind) string {
	switch k {
	case KindMessage:
		return CounterMessages
	case KindReactionGiven:
		return CounterReactionsGiven
	case KindReactionReceived:
		return CounterReactionsReceived
	case KindThreadCreate:
		return CounterThreads
	case KindVoiceTick:
		return CounterVoiceTicks
	}
	return ""
}

// WalletState is the actor's durable balance snapshot as loaded by the
// persistence gate before a reward computation.
type WalletState struct {
	ActorID string
	XP      int64
	Embers  int64
	Level   int

	// Counters holds per-kind lifetime counts keyed by the Counter* names.
	Counters map[string]int64

	// Achievements holds already-granted achievement identifiers.
	Achievements map[string]bool
}

// LedgerRecord is the append-only durable row representing a credited event.
type LedgerRecord struct {
	ID            string
	ActorID       string
	Kind          Kind
	XPDelta       int64
	EmbersDelta   int64
	SourceSystem  string
	SourceEventID string // empty when the event carried no dedup key
	CreatedAt     time.Time
}
