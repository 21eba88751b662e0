package pipeline_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/solsticehq/ember/internal/domain/antigaming"
	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/domain/leveling"
	"github.com/solsticehq/ember/internal/domain/quality"
	"github.com/solsticehq/ember/internal/pipeline"
	"github.com/solsticehq/ember/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// fakeConfig is a fixed-value ConfigSource for pipeline tests.
type fakeConfig struct {
	zones        map[string]string
	xpMult       map[string]float64
	emberMult    map[string]float64
	achievements []leveling.Achievement
}

func (f *fakeConfig) ZoneForChannel(channelID string) (string, bool) {
	z, ok := f.zones[channelID]
	return z, ok
}

func (f *fakeConfig) Multipliers(zone string, _ event.Kind) (float64, float64) {
	xp, ok := f.xpMult[zone]
	if !ok {
		xp = 1.0
	}
	em, ok := f.emberMult[zone]
	if !ok {
		em = 1.0
	}
	return xp, em
}

func (f *fakeConfig) QualityThresholds() quality.Thresholds { return quality.DefaultThresholds() }
func (f *fakeConfig) Rules() antigaming.Rules               { return antigaming.DefaultRules() }
func (f *fakeConfig) Curve() leveling.Curve                 { return leveling.DefaultCurve() }
func (f *fakeConfig) Achievements() []leveling.Achievement  { return f.achievements }

func newPipeline(t *testing.T, cfg pipeline.ConfigSource) (*pipeline.Pipeline, *antigaming.Tracker) {
	t.Helper()
	tracker := antigaming.NewTracker()
	return pipeline.New(cfg, tracker), tracker
}

func messageEvent(actor string, length int) event.InteractionEvent {
	return event.InteractionEvent{
		ActorID:   actor,
		Kind:      event.KindMessage,
		ChannelID: "general",
		Meta:      event.Meta{MessageLen: length},
		At:        time.Now(),
	}
}

func reactionReceived(target, reactor, messageID string, createdAt, at time.Time) event.InteractionEvent {
	return event.InteractionEvent{
		ActorID:   target,
		Kind:      event.KindReactionReceived,
		ChannelID: "general",
		Meta: event.Meta{
			ReactorID:        reactor,
			MessageID:        messageID,
			MessageCreatedAt: createdAt,
		},
		At: at,
	}
}

func TestComputeBaseMessage(t *testing.T) {
	Convey("A plain short message in an unmapped channel earns base amounts", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		d := p.Compute(context.Background(), messageEvent("alice", 50), event.WalletState{ActorID: "alice"})

		So(d.XPDelta, ShouldEqual, 15)
		So(d.EmbersDelta, ShouldEqual, 5)
		So(d.Zone, ShouldEqual, "")
		So(d.Zeroed(), ShouldBeFalse)
		So(d.LeveledUp, ShouldBeFalse)
	})
}

func TestComputeQualityStack(t *testing.T) {
	Convey("A long message with a code block stacks tier and code bonuses", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		ev := messageEvent("alice", 600)
		ev.Meta.HasCodeBlock = true
		d := p.Compute(context.Background(), ev, event.WalletState{ActorID: "alice"})

		// floor(15 * 1.5 * 1.4) = 31; the secondary currency ignores quality.
		So(d.XPDelta, ShouldEqual, 31)
		So(d.EmbersDelta, ShouldEqual, 5)
	})
}

func TestComputeZoneMultiplier(t *testing.T) {
	Convey("A mapped channel applies its zone multipliers with flooring", t, func() {
		cfg := &fakeConfig{
			zones:     map[string]string{"general": "events"},
			xpMult:    map[string]float64{"events": 2.0},
			emberMult: map[string]float64{"events": 1.5},
		}
		p, _ := newPipeline(t, cfg)

		d := p.Compute(context.Background(), messageEvent("alice", 50), event.WalletState{ActorID: "alice"})

		So(d.Zone, ShouldEqual, "events")
		So(d.XPDelta, ShouldEqual, 30)
		So(d.EmbersDelta, ShouldEqual, 7)
	})
}

func TestComputeManualAward(t *testing.T) {
	Convey("A manual award pays the amounts carried on the event", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		ev := event.InteractionEvent{
			ActorID: "alice",
			Kind:    event.KindManualAward,
			Meta:    event.Meta{XPAward: 100, EmbersAward: 40},
			At:      time.Now(),
		}
		d := p.Compute(context.Background(), ev, event.WalletState{ActorID: "alice"})

		So(d.XPDelta, ShouldEqual, 100)
		So(d.EmbersDelta, ShouldEqual, 40)
	})
}

func TestComputeSelfInteraction(t *testing.T) {
	Convey("A self-reaction zeroes both currencies", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		now := time.Now()
		ev := reactionReceived("alice", "alice", "m1", now, now)
		d := p.Compute(context.Background(), ev, event.WalletState{ActorID: "alice"})

		So(d.ZeroReason, ShouldEqual, event.ZeroReasonSelfInteraction)
		So(d.XPDelta, ShouldEqual, 0)
		So(d.EmbersDelta, ShouldEqual, 0)
	})
}

func TestComputePairCap(t *testing.T) {
	Convey("The fourth reaction from the same giver inside the window is zeroed", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})
		now := time.Now()
		wallet := event.WalletState{ActorID: "alice"}

		for i := 0; i < 3; i++ {
			ev := reactionReceived("alice", "bob", "m"+string(rune('1'+i)), now, now)
			d := p.Compute(context.Background(), ev, wallet)
			So(d.Zeroed(), ShouldBeFalse)
			So(d.XPDelta, ShouldEqual, 5)
			So(d.EmbersDelta, ShouldEqual, 3)
		}

		d := p.Compute(context.Background(), reactionReceived("alice", "bob", "m9", now, now), wallet)
		So(d.ZeroReason, ShouldEqual, event.ZeroReasonPairCap)
		So(d.XPDelta, ShouldEqual, 0)
		So(d.EmbersDelta, ShouldEqual, 0)
	})
}

func threadEvent(actor, parentAuthor string, at time.Time) event.InteractionEvent {
	return event.InteractionEvent{
		ActorID:   actor,
		Kind:      event.KindThreadCreate,
		ChannelID: "general",
		Meta:      event.Meta{ParentAuthorID: parentAuthor},
		At:        at,
	}
}

func TestComputeThreadPairRules(t *testing.T) {
	Convey("Threads on another actor's messages draw on the pair budget", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})
		now := time.Now()
		wallet := event.WalletState{ActorID: "bob"}

		for i := 0; i < 3; i++ {
			d := p.Compute(context.Background(), threadEvent("bob", "alice", now), wallet)
			So(d.Zeroed(), ShouldBeFalse)
			So(d.XPDelta, ShouldEqual, 20)
			So(d.EmbersDelta, ShouldEqual, 8)
		}

		Convey("the fourth thread inside the window is zeroed", func() {
			d := p.Compute(context.Background(), threadEvent("bob", "alice", now), wallet)
			So(d.ZeroReason, ShouldEqual, event.ZeroReasonPairCap)
			So(d.XPDelta, ShouldEqual, 0)
			So(d.EmbersDelta, ShouldEqual, 0)
		})

		Convey("a reaction from the same giver shares the exhausted budget", func() {
			d := p.Compute(context.Background(), reactionReceived("alice", "bob", "m1", now, now),
				event.WalletState{ActorID: "alice"})
			So(d.ZeroReason, ShouldEqual, event.ZeroReasonPairCap)
		})
	})

	Convey("A thread under the actor's own message is zeroed", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		d := p.Compute(context.Background(), threadEvent("alice", "alice", time.Now()),
			event.WalletState{ActorID: "alice"})
		So(d.ZeroReason, ShouldEqual, event.ZeroReasonSelfInteraction)
		So(d.XPDelta, ShouldEqual, 0)
	})

	Convey("A root thread with no parent author pays the base", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		d := p.Compute(context.Background(), threadEvent("alice", "", time.Now()),
			event.WalletState{ActorID: "alice"})
		So(d.Zeroed(), ShouldBeFalse)
		So(d.XPDelta, ShouldEqual, 20)
		So(d.EmbersDelta, ShouldEqual, 8)
	})
}

func TestComputeVelocityCap(t *testing.T) {
	Convey("Given a burst of reactions on one fresh message", t, func() {
		cfg := &fakeConfig{
			zones:  map[string]string{"general": "hot"},
			xpMult: map[string]float64{"hot": 3.0},
		}
		p, _ := newPipeline(t, cfg)
		created := time.Now()
		wallet := event.WalletState{ActorID: "alice"}

		reactor := func(i int) string { return "r" + string(rune('a'+i)) }

		Convey("the cap binds the primary currency only once the burst trips", func() {
			var d event.RewardDecision
			for i := 0; i < 10; i++ {
				at := created.Add(time.Duration(i) * time.Second)
				d = p.Compute(context.Background(), reactionReceived("alice", reactor(i), "m1", created, at), wallet)
				So(d.Zeroed(), ShouldBeFalse)
				So(d.VelocityCapped, ShouldBeFalse)
				So(d.XPDelta, ShouldEqual, 15)
			}

			// Reactor 11 earns no marginal credit under diminishing returns.
			at := created.Add(11 * time.Second)
			d = p.Compute(context.Background(), reactionReceived("alice", reactor(10), "m1", created, at), wallet)
			So(d.ZeroReason, ShouldEqual, event.ZeroReasonDiminishingReturns)

			// Reactor 12 is credited but capped at the per-event ceiling.
			at = created.Add(12 * time.Second)
			d = p.Compute(context.Background(), reactionReceived("alice", reactor(11), "m1", created, at), wallet)
			So(d.Zeroed(), ShouldBeFalse)
			So(d.VelocityCapped, ShouldBeTrue)
			So(d.XPDelta, ShouldEqual, 5)
			So(d.EmbersDelta, ShouldEqual, 3)
		})
	})
}

func TestComputeLevelUp(t *testing.T) {
	Convey("Crossing the level threshold pays the flat bonus in embers", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		wallet := event.WalletState{ActorID: "alice", XP: 90, Level: 0}
		d := p.Compute(context.Background(), messageEvent("alice", 50), wallet)

		So(d.XPDelta, ShouldEqual, 15)
		So(d.LeveledUp, ShouldBeTrue)
		So(d.NewLevel, ShouldEqual, 1)
		So(d.LevelBonus, ShouldEqual, 50)
		So(d.EmbersDelta, ShouldEqual, 55)
	})

	Convey("An event that stays below the threshold does not level", t, func() {
		p, _ := newPipeline(t, &fakeConfig{})

		wallet := event.WalletState{ActorID: "alice", XP: 10, Level: 0}
		d := p.Compute(context.Background(), messageEvent("alice", 50), wallet)

		So(d.LeveledUp, ShouldBeFalse)
		So(d.LevelBonus, ShouldEqual, 0)
		So(d.EmbersDelta, ShouldEqual, 5)
	})
}

func TestComputeAchievements(t *testing.T) {
	Convey("Counters updated by the event qualify new achievements exactly once", t, func() {
		cfg := &fakeConfig{
			achievements: []leveling.Achievement{
				{ID: "chatterbox", Counter: event.CounterMessages, Threshold: 100},
				{ID: "centurion", Counter: event.CounterXPTotal, Threshold: 1000},
			},
		}
		p, _ := newPipeline(t, cfg)

		wallet := event.WalletState{
			ActorID:  "alice",
			XP:       120,
			Level:    1,
			Counters: map[string]int64{event.CounterMessages: 99},
		}
		d := p.Compute(context.Background(), messageEvent("alice", 50), wallet)
		So(d.Achievements, ShouldResemble, []string{"chatterbox"})

		Convey("already-held achievements are not granted again", func() {
			wallet.Achievements = map[string]bool{"chatterbox": true}
			d := p.Compute(context.Background(), messageEvent("alice", 50), wallet)
			So(d.Achievements, ShouldBeEmpty)
		})
	})
}

func TestComputeFallbacks(t *testing.T) {
	Convey("With no configuration source the pipeline degrades to defaults", t, func() {
		p := pipeline.New(nil, antigaming.NewTracker())

		d := p.Compute(context.Background(), messageEvent("alice", 50), event.WalletState{ActorID: "alice"})
		So(d.XPDelta, ShouldEqual, 15)
		So(d.EmbersDelta, ShouldEqual, 5)
	})

	Convey("With no tracker a reaction is paid unadjusted rather than dropped", t, func() {
		p := pipeline.New(&fakeConfig{}, nil)

		now := time.Now()
		d := p.Compute(context.Background(), reactionReceived("alice", "alice", "m1", now, now), event.WalletState{ActorID: "alice"})
		So(d.Zeroed(), ShouldBeFalse)
		So(d.XPDelta, ShouldEqual, 5)
	})
}
