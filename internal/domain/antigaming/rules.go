package antigaming

import "time"

// Rules bundle the tunable anti-gaming thresholds. They are read from the
// configuration cache at evaluation time so administrative changes take
// effect on the next event.
type Rules struct {
	// PairCap is the maximum credited interactions per actor pair inside
	// PairWindow.
	PairCap    int
	PairWindow time.Duration

	// UniqueReactorThreshold is where diminishing returns begin: unique
	// reactors beyond it credit at half rate, rounded down.
	UniqueReactorThreshold int

	// ReactorWindow bounds how long a reactor counts as recent on a message.
	ReactorWindow time.Duration

	// BurstThreshold and BurstWindow define a reaction burst: more unique
	// reactors than BurstThreshold within BurstWindow of message creation.
	BurstThreshold int
	BurstWindow    time.Duration

	// VelocityCeiling hard-caps the primary-currency reward per reaction
	// while a burst is in progress. Secondary currency is unaffected.
	VelocityCeiling int64
}

// DefaultRules returns the built-in thresholds used when no configuration row
// exists.
func DefaultRules() Rules {
	return Rules{
		PairCap:                3,
		PairWindow:             24 * time.Hour,
		UniqueReactorThreshold: 10,
		ReactorWindow:          5 * time.Minute,
		BurstThreshold:         10,
		BurstWindow:            5 * time.Minute,
		VelocityCeiling:        5,
	}
}

// DiminishedCredit returns the credited value of n unique reactors against a
// threshold t: every reactor up to t credits fully, each one beyond credits
// at half rate, rounded down.
func DiminishedCredit(n, t int) int {
	if n <= 0 {
		return 0
	}
	// t <= 0 disables diminishing returns entirely.
	if t <= 0 || n <= t {
		return n
	}
	return t + (n-t)/2
}
