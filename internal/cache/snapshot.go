package cache

import (
	"github.com/solsticehq/ember/internal/domain/antigaming"
	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/domain/leveling"
	"github.com/solsticehq/ember/internal/domain/quality"
)

// Multiplier is a per-(zone, kind) pair of scaling factors.
type Multiplier struct {
	XP     float64
	Embers float64
}

// IdentityMultiplier applies when no explicit row exists.
var IdentityMultiplier = Multiplier{XP: 1.0, Embers: 1.0}

// MultiplierKey identifies a zone multiplier row.
type MultiplierKey struct {
	Zone string
	Kind event.Kind
}

// Settings bundles the scalar tunables loaded from the settings table.
type Settings struct {
	Quality quality.Thresholds
	Rules   antigaming.Rules
	Curve   leveling.Curve
}

// DefaultSettings returns the built-in tunables used when no row exists.
func DefaultSettings() Settings {
	return Settings{
		Quality: quality.DefaultThresholds(),
		Rules:   antigaming.DefaultRules(),
		Curve:   leveling.DefaultCurve(),
	}
}

// Snapshot is an immutable configuration view. Published snapshots are never
// mutated; a reload builds a replacement and swaps the pointer, so concurrent
// readers never observe a half-updated state.
type Snapshot struct {
	Zones        map[string]string // channel id -> zone
	Multipliers  map[MultiplierKey]Multiplier
	Settings     Settings
	Achievements []leveling.Achievement
}

// emptySnapshot returns a snapshot carrying only defaults.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		Zones:       map[string]string{},
		Multipliers: map[MultiplierKey]Multiplier{},
		Settings:    DefaultSettings(),
	}
}

// clone returns a shallow copy sharing every partition with the receiver.
// The caller replaces exactly the partitions it reloaded before publishing;
// shared partitions stay untouched since published snapshots are read-only.
func (s *Snapshot) clone() *Snapshot {
	c := *s
	return &c
}
