package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/internal/domain/leveling"
	"github.com/solsticehq/ember/internal/domain/quality"
	"github.com/solsticehq/ember/pkg/logger"
	"github.com/solsticehq/ember/pkg/metrics"
)

// SQLStore loads configuration partitions from Postgres. A malformed row is
// skipped with the default applied for that key; it never aborts the load.
type SQLStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSQLStore creates a store reading from db.
func NewSQLStore(db *sql.DB, l logger.Logger) *SQLStore {
	if l == nil {
		l = logger.Get().Named("config-store")
	}
	return &SQLStore{db: db, logger: l}
}

// Zones loads the channel-to-zone mapping.
func (s *SQLStore) Zones(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, zone FROM zones`)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var channelID, zone sql.NullString
		if err := rows.Scan(&channelID, &zone); err != nil {
			s.skipRow(ctx, TableZones, err)
			continue
		}
		if !channelID.Valid || channelID.String == "" || !zone.Valid || zone.String == "" {
			s.skipRow(ctx, TableZones, nil)
			continue
		}
		out[channelID.String] = zone.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan zones: %w", err)
	}
	return out, nil
}

// Multipliers loads the per-(zone, kind) scaling factors.
func (s *SQLStore) Multipliers(ctx context.Context) (map[MultiplierKey]Multiplier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT zone, kind, xp_mult, embers_mult FROM zone_multipliers`)
	if err != nil {
		return nil, fmt.Errorf("query zone multipliers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[MultiplierKey]Multiplier)
	for rows.Next() {
		var zone, kind sql.NullString
		var xp, embers sql.NullFloat64
		if err := rows.Scan(&zone, &kind, &xp, &embers); err != nil {
			s.skipRow(ctx, TableMultipliers, err)
			continue
		}
		k := event.Kind(kind.String)
		if !zone.Valid || !k.Valid() || !xp.Valid || !embers.Valid ||
			xp.Float64 < 0 || embers.Float64 < 0 {
			s.skipRow(ctx, TableMultipliers, nil)
			continue
		}
		out[MultiplierKey{Zone: zone.String, Kind: k}] = Multiplier{
			XP:     xp.Float64,
			Embers: embers.Float64,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan zone multipliers: %w", err)
	}
	return out, nil
}

// Settings loads scalar tunables from the key/value settings table, layering
// them over the built-in defaults.
func (s *SQLStore) Settings(ctx context.Context) (Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("query settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	settings := DefaultSettings()
	for rows.Next() {
		var key, value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			s.skipRow(ctx, TableSettings, err)
			continue
		}
		if !key.Valid || !value.Valid {
			s.skipRow(ctx, TableSettings, nil)
			continue
		}
		v, err := strconv.ParseFloat(value.String, 64)
		if err != nil {
			s.skipRow(ctx, TableSettings, fmt.Errorf("setting %q: %w", key.String, err))
			continue
		}
		applySetting(&settings, key.String, v)
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("scan settings: %w", err)
	}
	quality.SortTiers(settings.Quality.Tiers)
	return settings, nil
}

// Achievements loads active achievement definitions.
func (s *SQLStore) Achievements(ctx context.Context) ([]leveling.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, counter, threshold FROM achievements WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []leveling.Achievement
	for rows.Next() {
		var id, counter sql.NullString
		var threshold sql.NullInt64
		if err := rows.Scan(&id, &counter, &threshold); err != nil {
			s.skipRow(ctx, TableAchievements, err)
			continue
		}
		if !id.Valid || id.String == "" || !counter.Valid || counter.String == "" || !threshold.Valid {
			s.skipRow(ctx, TableAchievements, nil)
			continue
		}
		out = append(out, leveling.Achievement{
			ID:        id.String,
			Counter:   counter.String,
			Threshold: threshold.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan achievements: %w", err)
	}
	return out, nil
}

func (s *SQLStore) skipRow(ctx context.Context, table string, err error) {
	metrics.RecordCacheRowSkipped()
	s.logger.Warn(ctx, "skipping malformed configuration row",
		logger.String("table", table),
		logger.Error(err),
	)
}

// applySetting maps one settings row onto the typed settings bundle. Unknown
// keys are ignored so new settings can land before the code that reads them.
func applySetting(s *Settings, key string, v float64) {
	switch key {
	case "quality_long_len":
		setTier(&s.Quality, 0, int(v), 0)
	case "quality_long_mult":
		setTier(&s.Quality, 0, 0, v)
	case "quality_medium_len":
		setTier(&s.Quality, 1, int(v), 0)
	case "quality_medium_mult":
		setTier(&s.Quality, 1, 0, v)
	case "quality_code_mult":
		s.Quality.CodeBlockBonus = v
	case "quality_link_mult":
		s.Quality.LinkBonus = v
	case "quality_attachment_mult":
		s.Quality.AttachmentBonus = v
	case "quality_spam_ratio":
		s.Quality.SpamRepetitionMax = v
	case "quality_spam_mult":
		s.Quality.SpamPenalty = v
	case "gaming_pair_cap":
		s.Rules.PairCap = int(v)
	case "gaming_pair_window_secs":
		s.Rules.PairWindow = secs(v)
	case "gaming_unique_threshold":
		s.Rules.UniqueReactorThreshold = int(v)
	case "gaming_reactor_window_secs":
		s.Rules.ReactorWindow = secs(v)
	case "gaming_burst_threshold":
		s.Rules.BurstThreshold = int(v)
	case "gaming_burst_window_secs":
		s.Rules.BurstWindow = secs(v)
	case "gaming_velocity_ceiling":
		s.Rules.VelocityCeiling = int64(v)
	case "level_base":
		s.Curve.Base = v
	case "level_factor":
		s.Curve.Factor = v
	case "level_bonus":
		s.Curve.LevelBonus = int64(v)
	}
}

func setTier(q *quality.Thresholds, idx, minLen int, mult float64) {
	for len(q.Tiers) <= idx {
		q.Tiers = append(q.Tiers, quality.Tier{})
	}
	if minLen > 0 {
		q.Tiers[idx].MinLen = minLen
	}
	if mult > 0 {
		q.Tiers[idx].Mult = mult
	}
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
