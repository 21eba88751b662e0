package cache_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticehq/ember/internal/cache"
	"github.com/solsticehq/ember/internal/domain/event"
)

func TestSQLStore_Zones(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := cache.NewSQLStore(db, nil)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"channel_id", "zone"}).
		AddRow("chan-1", "arena").
		AddRow(nil, "lost").     // malformed: null channel, skipped
		AddRow("chan-2", nil).   // malformed: null zone, skipped
		AddRow("chan-3", "dojo")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT channel_id, zone FROM zones")).
		WillReturnRows(rows)

	zones, err := store.Zones(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"chan-1": "arena", "chan-3": "dojo"}, zones)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Multipliers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := cache.NewSQLStore(db, nil)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"zone", "kind", "xp_mult", "embers_mult"}).
		AddRow("arena", "message", 2.0, 1.5).
		AddRow("arena", "teleport", 3.0, 3.0). // unknown kind, skipped
		AddRow("dojo", "voice_tick", -1.0, 1.0). // negative, skipped
		AddRow("dojo", "reaction_received", 1.25, 2.0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT zone, kind, xp_mult, embers_mult FROM zone_multipliers")).
		WillReturnRows(rows)

	mults, err := store.Multipliers(ctx)
	require.NoError(t, err)
	assert.Len(t, mults, 2)
	assert.Equal(t, cache.Multiplier{XP: 2.0, Embers: 1.5},
		mults[cache.MultiplierKey{Zone: "arena", Kind: event.KindMessage}])
	assert.Equal(t, cache.Multiplier{XP: 1.25, Embers: 2.0},
		mults[cache.MultiplierKey{Zone: "dojo", Kind: event.KindReactionReceived}])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Settings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := cache.NewSQLStore(db, nil)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("gaming_pair_cap", "5").
		AddRow("gaming_burst_window_secs", "120").
		AddRow("quality_code_mult", "1.6").
		AddRow("level_factor", "banana"). // unparseable, default kept
		AddRow("totally_unknown", "42")   // unknown key, ignored

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM settings")).
		WillReturnRows(rows)

	settings, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, settings.Rules.PairCap)
	assert.Equal(t, 2*time.Minute, settings.Rules.BurstWindow)
	assert.Equal(t, 1.6, settings.Quality.CodeBlockBonus)
	assert.Equal(t, 1.5, settings.Curve.Factor) // default survived the bad row
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Achievements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := cache.NewSQLStore(db, nil)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "counter", "threshold"}).
		AddRow("chatterbox", "messages", 100).
		AddRow("", "messages", 5). // malformed: empty id, skipped
		AddRow("beloved", "reactions_received", 50)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, counter, threshold FROM achievements WHERE active")).
		WillReturnRows(rows)

	defs, err := store.Achievements(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "chatterbox", defs[0].ID)
	assert.Equal(t, int64(50), defs[1].Threshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := cache.NewSQLStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT channel_id, zone FROM zones")).
		WillReturnError(assert.AnError)

	_, err = store.Zones(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
