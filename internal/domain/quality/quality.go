// Package quality computes the content-quality modifier for message rewards.
//
// Score is deliberately a pure function over explicit Thresholds so it can be
// exercised exhaustively in tests; callers thread the current thresholds in
// from the configuration cache rather than reaching for ambient state.
package quality

import (
	"sort"

	"github.com/solsticehq/ember/internal/domain/event"
)

// Floor is the minimum quality modifier. Quality alone never reduces a reward
// to zero; only anti-gaming rules may do that.
const Floor = 0.1

// Tier grants a multiplier to messages of at least MinLen characters. Tiers
// are mutually exclusive: only the longest matching tier applies.
type Tier struct {
	MinLen int
	Mult   float64
}

// Thresholds bundle the tunable quality parameters.
type Thresholds struct {
	Tiers []Tier

	CodeBlockBonus  float64
	LinkBonus       float64
	AttachmentBonus float64

	// SpamRepetitionMax is the repetition ratio above which SpamPenalty
	// applies.
	SpamRepetitionMax float64
	SpamPenalty       float64
}

// DefaultThresholds returns the built-in quality parameters used when no
// configuration row exists.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Tiers: []Tier{
			{MinLen: 500, Mult: 1.5},
			{MinLen: 200, Mult: 1.2},
		},
		CodeBlockBonus:    1.4,
		LinkBonus:         1.2,
		AttachmentBonus:   1.3,
		SpamRepetitionMax: 0.6,
		SpamPenalty:       0.3,
	}
}

// Score computes the multiplicative quality modifier for an interaction.
// Only the message kind is scored; every other kind returns 1.0.
func Score(kind event.Kind, meta event.Meta, t Thresholds) float64 {
	if kind != event.KindMessage {
		return 1.0
	}

	score := 1.0

	// Single longest matching length tier.
	if tier, ok := matchTier(meta.MessageLen, t.Tiers); ok {
		score *= tier.Mult
	}

	// Structural bonuses stack multiplicatively.
	if meta.HasCodeBlock && t.CodeBlockBonus > 0 {
		score *= t.CodeBlockBonus
	}
	if meta.HasLink && t.LinkBonus > 0 {
		score *= t.LinkBonus
	}
	if meta.HasAttachment && t.AttachmentBonus > 0 {
		score *= t.AttachmentBonus
	}

	// Spam penalty applies once, after bonuses.
	if t.SpamPenalty > 0 && meta.RepetitionRatio > t.SpamRepetitionMax {
		score *= t.SpamPenalty
	}

	if score < Floor {
		return Floor
	}
	return score
}

// matchTier returns the tier with the largest MinLen not exceeding length.
func matchTier(length int, tiers []Tier) (Tier, bool) {
	best := Tier{MinLen: -1}
	for _, tier := range tiers {
		if tier.MinLen <= 0 || tier.Mult <= 0 {
			continue
		}
		if length >= tier.MinLen && tier.MinLen > best.MinLen {
			best = tier
		}
	}
	return best, best.MinLen > 0
}

// SortTiers orders tiers by descending MinLen. Loaders use it so snapshots
// keep a stable ordering regardless of row order in the store.
func SortTiers(tiers []Tier) {
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinLen > tiers[j].MinLen })
}
