package antigaming_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/solsticehq/ember/internal/domain/antigaming"
	"github.com/solsticehq/ember/internal/domain/event"
)

func TestDiminishedCredit(t *testing.T) {
	Convey("Given the diminishing-returns formula with threshold 10", t, func() {
		cases := map[int]int{
			0:  0,
			1:  1,
			9:  9,
			10: 10,
			11: 10,
			12: 11,
			14: 12,
			20: 15,
		}

		Convey("Then credited values should follow min(n,t)+floor((n-t)/2)", func() {
			for n, want := range cases {
				So(antigaming.DiminishedCredit(n, 10), ShouldEqual, want)
			}
		})

		Convey("And a non-positive threshold should disable diminishing", func() {
			So(antigaming.DiminishedCredit(14, 0), ShouldEqual, 14)
			So(antigaming.DiminishedCredit(14, -1), ShouldEqual, 14)
		})
	})
}

func TestEvaluateReaction_SelfInteraction(t *testing.T) {
	Convey("Given a tracker", t, func() {
		tracker := antigaming.NewTracker()
		rules := antigaming.DefaultRules()
		now := time.Now()

		Convey("When the actor reacts to their own message", func() {
			a := tracker.EvaluateReaction(context.Background(), "alice", "alice", "m1", now, now, rules)

			Convey("Then the reward should be zeroed unconditionally", func() {
				So(a.Zeroed(), ShouldBeTrue)
				So(a.ZeroReason, ShouldEqual, event.ZeroReasonSelfInteraction)
			})
		})
	})
}

func TestEvaluateReaction_RepeatReactor(t *testing.T) {
	Convey("Given a tracker with one recorded reaction", t, func() {
		tracker := antigaming.NewTracker()
		rules := antigaming.DefaultRules()
		now := time.Now()
		ctx := context.Background()

		first := tracker.EvaluateReaction(ctx, "alice", "bob", "m1", now, now, rules)
		So(first.Zeroed(), ShouldBeFalse)

		Convey("When the same reactor reacts again within the window", func() {
			a := tracker.EvaluateReaction(ctx, "alice", "bob", "m1", now, now.Add(time.Second), rules)

			Convey("Then the repeat reaction should credit nothing", func() {
				So(a.ZeroReason, ShouldEqual, event.ZeroReasonRepeatReactor)
			})
		})

		Convey("When the same reactor reacts after the reactor window expired", func() {
			later := now.Add(rules.ReactorWindow + time.Minute)
			a := tracker.EvaluateReaction(ctx, "alice", "bob", "m1", now, later, rules)

			Convey("Then it should count as a fresh unique reactor", func() {
				So(a.Zeroed(), ShouldBeFalse)
				So(a.UniqueReactors, ShouldEqual, 1)
			})
		})
	})
}

func TestEvaluateReaction_PairCap(t *testing.T) {
	Convey("Given a pair cap of 3 per 24h", t, func() {
		tracker := antigaming.NewTracker()
		rules := antigaming.DefaultRules()
		now := time.Now()
		ctx := context.Background()

		// Three credited interactions on distinct messages.
		for i := 0; i < 3; i++ {
			msg := fmt.Sprintf("m%d", i)
			ts := now.Add(time.Duration(i) * time.Minute)
			a := tracker.EvaluateReaction(ctx, "alice", "bob", msg, ts, ts, rules)
			So(a.Zeroed(), ShouldBeFalse)
		}

		Convey("When the 4th interaction arrives within the window", func() {
			ts := now.Add(10 * time.Minute)
			a := tracker.EvaluateReaction(ctx, "alice", "bob", "m4", ts, ts, rules)

			Convey("Then the pair cap should zero the reward", func() {
				So(a.ZeroReason, ShouldEqual, event.ZeroReasonPairCap)
			})
		})

		Convey("When older entries age out of the window", func() {
			ts := now.Add(rules.PairWindow + time.Hour)
			a := tracker.EvaluateReaction(ctx, "alice", "bob", "m5", ts, ts, rules)

			Convey("Then the pair should be rewarded again", func() {
				So(a.Zeroed(), ShouldBeFalse)
			})
		})

		Convey("And an unrelated pair should be unaffected by the cap", func() {
			ts := now.Add(10 * time.Minute)
			a := tracker.EvaluateReaction(ctx, "alice", "carol", "m6", ts, ts, rules)
			So(a.Zeroed(), ShouldBeFalse)
		})
	})
}

func TestEvaluateReaction_DiminishingAndVelocity(t *testing.T) {
	Convey("Given a message accumulating unique reactors quickly", t, func() {
		tracker := antigaming.NewTracker()
		rules := antigaming.DefaultRules()
		created := time.Now()
		ctx := context.Background()

		react := func(i int, at time.Time) antigaming.Assessment {
			return tracker.EvaluateReaction(ctx, "alice", fmt.Sprintf("user%d", i), "viral", created, at, rules)
		}

		Convey("When reactors stay at or below the threshold", func() {
			var last antigaming.Assessment
			for i := 1; i <= 10; i++ {
				last = react(i, created.Add(time.Duration(i)*time.Second))
				So(last.Zeroed(), ShouldBeFalse)
			}

			Convey("Then full credit applies and no velocity cap fires", func() {
				So(last.UniqueReactors, ShouldEqual, 10)
				So(last.CreditedReactors, ShouldEqual, 10)
				So(last.VelocityCapped, ShouldBeFalse)
			})

			Convey("And the 11th reactor beyond the threshold credits nothing", func() {
				a := react(11, created.Add(11*time.Second))
				So(a.ZeroReason, ShouldEqual, event.ZeroReasonDiminishingReturns)
				So(a.CreditedReactors, ShouldEqual, 10)
			})

			Convey("And the 12th reactor credits at half rate under the velocity cap", func() {
				_ = react(11, created.Add(11*time.Second))
				a := react(12, created.Add(12*time.Second))
				So(a.Zeroed(), ShouldBeFalse)
				So(a.CreditedReactors, ShouldEqual, 11)
				So(a.VelocityCapped, ShouldBeTrue)
				So(a.XPCeiling, ShouldEqual, rules.VelocityCeiling)
			})
		})

		Convey("When the burst window has already passed", func() {
			for i := 1; i <= 11; i++ {
				_ = react(i, created.Add(rules.BurstWindow+time.Duration(i)*time.Minute))
			}
			a := react(12, created.Add(rules.BurstWindow+20*time.Minute))

			Convey("Then diminishing returns still applies but no velocity cap", func() {
				So(a.VelocityCapped, ShouldBeFalse)
			})
		})
	})
}

func TestRecordPairInteraction(t *testing.T) {
	Convey("Given a tracker and the default pair cap", t, func() {
		tracker := antigaming.NewTracker()
		rules := antigaming.DefaultRules()
		now := time.Now()
		ctx := context.Background()

		Convey("Then the cap should bind across interaction kinds", func() {
			So(tracker.RecordPairInteraction(ctx, "alice", "bob", now, rules), ShouldBeTrue)
			So(tracker.RecordPairInteraction(ctx, "alice", "bob", now, rules), ShouldBeTrue)
			So(tracker.RecordPairInteraction(ctx, "alice", "bob", now, rules), ShouldBeTrue)
			So(tracker.RecordPairInteraction(ctx, "alice", "bob", now, rules), ShouldBeFalse)
		})

		Convey("Then self pairs should never record", func() {
			So(tracker.RecordPairInteraction(ctx, "alice", "alice", now, rules), ShouldBeFalse)
		})
	})
}

func TestTrackerConcurrency(t *testing.T) {
	Convey("Given many goroutines hammering one pair", t, func() {
		tracker := antigaming.NewTracker(antigaming.WithShardCount(8))
		rules := antigaming.DefaultRules()
		now := time.Now()
		ctx := context.Background()

		const goroutines = 64
		var wg sync.WaitGroup
		credited := make(chan struct{}, goroutines)

		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				msg := fmt.Sprintf("m%d", i)
				a := tracker.EvaluateReaction(ctx, "alice", "bob", msg, now, now, rules)
				if !a.Zeroed() {
					credited <- struct{}{}
				}
			}(i)
		}
		wg.Wait()
		close(credited)

		Convey("Then exactly PairCap evaluations should be credited", func() {
			count := 0
			for range credited {
				count++
			}
			So(count, ShouldEqual, rules.PairCap)
		})
	})
}

func TestTrackerSweep(t *testing.T) {
	Convey("Given recorded state older than every window", t, func() {
		tracker := antigaming.NewTracker()
		rules := antigaming.DefaultRules()
		past := time.Now().Add(-48 * time.Hour)
		ctx := context.Background()

		_ = tracker.EvaluateReaction(ctx, "alice", "bob", "m1", past, past, rules)
		pairs, messages := tracker.Stats()
		So(pairs, ShouldEqual, 1)
		So(messages, ShouldEqual, 1)

		Convey("When a new evaluation arrives after the windows expired", func() {
			now := time.Now()
			a := tracker.EvaluateReaction(ctx, "alice", "bob", "m1", past, now, rules)

			Convey("Then the stale entries should not count against it", func() {
				So(a.Zeroed(), ShouldBeFalse)
				So(a.UniqueReactors, ShouldEqual, 1)
			})
		})
	})
}

func TestSweepHonorsConfiguredWindows(t *testing.T) {
	Convey("Given a pair window lengthened past the default", t, func() {
		rules := antigaming.DefaultRules()
		rules.PairWindow = 48 * time.Hour

		tracker := antigaming.NewTracker(
			antigaming.WithSweepInterval(5*time.Millisecond),
			antigaming.WithRulesSource(func() antigaming.Rules { return rules }),
		)
		ctx := context.Background()

		old := time.Now().Add(-30 * time.Hour)
		for i := 0; i < rules.PairCap; i++ {
			at := old.Add(time.Duration(i) * time.Minute)
			a := tracker.EvaluateReaction(ctx, "alice", "bob", fmt.Sprintf("m%d", i), at, at, rules)
			So(a.Zeroed(), ShouldBeFalse)
		}

		Convey("When the periodic sweep runs", func() {
			tracker.Start(ctx)
			defer tracker.Stop()
			time.Sleep(30 * time.Millisecond)

			Convey("Then interactions still inside the window survive it", func() {
				now := time.Now()
				a := tracker.EvaluateReaction(ctx, "alice", "bob", "m9", now, now, rules)
				So(a.ZeroReason, ShouldEqual, event.ZeroReasonPairCap)
			})
		})
	})
}
