// Package pipeline orchestrates reward computation: classification,
// multiplier lookup, quality scoring, anti-gaming adjustment, capping, and
// leveling. It reads only from the configuration cache and the anti-gaming
// tracker; durable effects happen later, in the persistence gate, so an
// in-flight computation is safe to abandon.
package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/solsticehq/ember/internal/domain/antigaming"
	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/domain/leveling"
	"github.com/solsticehq/ember/internal/domain/quality"
	"github.com/solsticehq/ember/pkg/logger"
	"github.com/solsticehq/ember/pkg/metrics"
)

// ConfigSource supplies the tunables read at each stage. Implemented by the
// configuration cache; all reads are non-blocking snapshot reads.
type ConfigSource interface {
	ZoneForChannel(channelID string) (string, bool)
	Multipliers(zone string, kind event.Kind) (xp, embers float64)
	QualityThresholds() quality.Thresholds
	Rules() antigaming.Rules
	Curve() leveling.Curve
	Achievements() []leveling.Achievement
}

// Tracker evaluates and records anti-gaming state. Check-and-record is
// atomic inside the tracker.
type Tracker interface {
	EvaluateReaction(ctx context.Context, targetID, reactorID, messageID string,
		messageCreatedAt, now time.Time, rules antigaming.Rules) antigaming.Assessment
	RecordPairInteraction(ctx context.Context, actorID, targetID string,
		now time.Time, rules antigaming.Rules) bool
}

// Pipeline computes reward decisions. Safe for concurrent use; concurrent
// events for different actors proceed in parallel with no shared lock here.
type Pipeline struct {
	cfg     ConfigSource
	tracker Tracker
	logger  logger.Logger
}

// New constructs a Pipeline over the injected cache and tracker.
func New(cfg ConfigSource, tracker Tracker, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, tracker: tracker}

	// Apply all options
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logger.Get().Named("pipeline")
	}
	return p
}

// Compute runs the fixed stage order and returns the reward decision for ev
// given the actor's current wallet. It never fails: a transiently missing
// dependency degrades to identity multipliers or no adjustment, because an
// under-rewarded event is preferable to a lost one.
func (p *Pipeline) Compute(ctx context.Context, ev event.InteractionEvent, wallet event.WalletState) event.RewardDecision {
	start := time.Now()
	defer func() {
		metrics.RecordComputeLatency(time.Since(start).Seconds())
	}()

	// Stages 1-2: zone resolution and multiplier lookup.
	zone := ""
	xpMult, emberMult := 1.0, 1.0
	thresholds := quality.DefaultThresholds()
	rules := antigaming.DefaultRules()
	curve := leveling.DefaultCurve()
	var defs []leveling.Achievement

	if p.cfg != nil {
		if z, ok := p.cfg.ZoneForChannel(ev.ChannelID); ok {
			zone = z
		}
		xpMult, emberMult = p.cfg.Multipliers(zone, ev.Kind)
		thresholds = p.cfg.QualityThresholds()
		rules = p.cfg.Rules()
		curve = p.cfg.Curve()
		defs = p.cfg.Achievements()
	} else {
		metrics.RecordPipelineFallback("config")
		p.logger.Warn(ctx, "no configuration source; using identity multipliers and defaults")
	}

	// Stage 3: quality modifier (message kind only).
	q := quality.Score(ev.Kind, ev.Meta, thresholds)

	// Stage 4: per-kind base amounts. Manual awards carry theirs in Meta.
	base := event.BaseFor(ev.Kind)
	if ev.Kind == event.KindManualAward {
		base = event.BaseReward{XP: ev.Meta.XPAward, Embers: ev.Meta.EmbersAward}
	}

	// Stage 5: multiplier x quality on primary; multiplier only on
	// secondary. Quality never touches the participation currency.
	xp := int64(math.Floor(float64(base.XP) * xpMult * q))
	embers := int64(math.Floor(float64(base.Embers) * emberMult))

	d := event.RewardDecision{Zone: zone}

	// Stages 6-7: anti-gaming adjustment and velocity cap.
	if ev.Kind == event.KindReactionReceived {
		switch {
		case p.tracker == nil:
			metrics.RecordPipelineFallback("tracker")
			p.logger.Warn(ctx, "no anti-gaming tracker; skipping adjustment",
				logger.String("actor", ev.ActorID))
		default:
			now := ev.At
			if now.IsZero() {
				now = time.Now()
			}
			a := p.tracker.EvaluateReaction(ctx, ev.ActorID, ev.Meta.ReactorID,
				ev.Meta.MessageID, ev.Meta.MessageCreatedAt, now, rules)
			if a.Zeroed() {
				metrics.RecordRewardZeroed(a.ZeroReason)
				d.ZeroReason = a.ZeroReason
				xp, embers = 0, 0
			} else if a.VelocityCapped && xp > a.XPCeiling {
				metrics.RecordVelocityCapped()
				d.VelocityCapped = true
				xp = a.XPCeiling
			}
		}
	}

	// A thread on someone else's message is a pair interaction like a
	// reaction: the self and pair-cap rules zero both currencies, and a
	// credited thread consumes one pair slot.
	if ev.Kind == event.KindThreadCreate && ev.Meta.ParentAuthorID != "" {
		switch {
		case ev.ActorID == ev.Meta.ParentAuthorID:
			metrics.RecordRewardZeroed(event.ZeroReasonSelfInteraction)
			d.ZeroReason = event.ZeroReasonSelfInteraction
			xp, embers = 0, 0
		case p.tracker == nil:
			metrics.RecordPipelineFallback("tracker")
			p.logger.Warn(ctx, "no anti-gaming tracker; skipping adjustment",
				logger.String("actor", ev.ActorID))
		default:
			now := ev.At
			if now.IsZero() {
				now = time.Now()
			}
			if !p.tracker.RecordPairInteraction(ctx, ev.ActorID, ev.Meta.ParentAuthorID, now, rules) {
				metrics.RecordRewardZeroed(event.ZeroReasonPairCap)
				d.ZeroReason = event.ZeroReasonPairCap
				xp, embers = 0, 0
			}
		}
	}

	// Stage 8: level-up against the exponential curve.
	newLevel := wallet.Level
	if xp > 0 {
		var bonus int64
		newLevel, bonus = leveling.Advance(curve, wallet.Level, wallet.XP+xp)
		if newLevel > wallet.Level {
			metrics.RecordLevelUp()
			d.LeveledUp = true
			d.NewLevel = newLevel
			d.LevelBonus = bonus
			embers += bonus
		}
	}

	// Stage 9: achievement qualification over updated counters.
	counters := make(map[string]int64, len(wallet.Counters)+3)
	for k, v := range wallet.Counters {
		counters[k] = v
	}
	if !d.Zeroed() {
		if c := event.CounterFor(ev.Kind); c != "" {
			counters[c]++
		}
	}
	counters[event.CounterXPTotal] = wallet.XP + xp
	counters[event.CounterLevel] = int64(newLevel)
	d.Achievements = leveling.NewlyQualified(defs, counters, wallet.Achievements)
	if len(d.Achievements) > 0 {
		metrics.RecordAchievementsGranted(len(d.Achievements))
	}

	d.XPDelta = xp
	d.EmbersDelta = embers
	return d
}
