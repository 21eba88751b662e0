// Package leveling computes level progression and achievement qualification.
// Both are pure functions over explicit parameters so the pipeline stays
// independently testable.
package leveling

import "math"

// Curve defines the exponential level progression.
type Curve struct {
	// Base and Factor parameterize required(level) = Base * Factor^level.
	Base   float64
	Factor float64

	// LevelBonus is the one-time secondary-currency bonus per level gained.
	LevelBonus int64
}

// DefaultCurve returns the built-in progression parameters.
func DefaultCurve() Curve {
	return Curve{Base: 100, Factor: 1.5, LevelBonus: 50}
}

// Required returns the cumulative primary currency needed to advance past
// the given level.
func Required(c Curve, level int) int64 {
	if c.Base <= 0 || c.Factor <= 0 {
		return math.MaxInt64
	}
	req := c.Base * math.Pow(c.Factor, float64(level))
	if req >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(req)
}

// Advance returns the new level and total bonus after total primary currency
// reaches totalXP. Multiple thresholds crossed in one event each grant the
// bonus once.
func Advance(c Curve, level int, totalXP int64) (newLevel int, bonus int64) {
	newLevel = level
	for totalXP >= Required(c, newLevel) {
		newLevel++
		bonus += c.LevelBonus
	}
	return newLevel, bonus
}

// Achievement is a cached achievement definition: a counter name and the
// threshold at which it is granted.
type Achievement struct {
	ID        string
	Counter   string
	Threshold int64
}

// NewlyQualified scans active definitions against updated counters and
// returns identifiers not already held. The scan is a read-only pass with no
// concurrency concerns.
func NewlyQualified(defs []Achievement, counters map[string]int64, held map[string]bool) []string {
	var out []string
	for _, def := range defs {
		if def.ID == "" || def.Counter == "" {
			continue
		}
		if held[def.ID] {
			continue
		}
		if counters[def.Counter] >= def.Threshold {
			out = append(out, def.ID)
		}
	}
	return out
}
