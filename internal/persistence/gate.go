// Package persistence applies reward decisions to durable storage exactly
// once. The ledger's unique key on (source_system, source_event_id) is the
// idempotency authority: a redelivered event hits the key, the insert is
// rolled back to a savepoint, and none of the remaining effects run.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/solsticehq/ember/internal/domain/event"
	"github.com/solsticehq/ember/pkg/logger"
	"github.com/solsticehq/ember/pkg/metrics"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Outcome reports what a commit did.
type Outcome int

const (
	// OutcomeApplied means the event was new and all effects were written.
	OutcomeApplied Outcome = iota
	// OutcomeAlreadyApplied means the event was a redelivery and nothing
	// changed.
	OutcomeAlreadyApplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	default:
		return "unknown"
	}
}

// Gate writes reward decisions inside a single transaction per event.
type Gate struct {
	db     *sql.DB
	source string
	logger logger.Logger
}

// NewGate constructs a Gate over the given database handle.
func NewGate(db *sql.DB, opts ...Option) *Gate {
	g := &Gate{db: db, source: "gateway"}

	// Apply all options
	for _, opt := range opts {
		opt(g)
	}

	if g.logger == nil {
		g.logger = logger.Get().Named("persistence")
	}
	return g
}

// Commit applies the decision for ev atomically: ledger entry, wallet
// balances, lifetime counters, and achievement grants land together or not
// at all. Redeliveries return OutcomeAlreadyApplied with no effect. Events
// without a deduplication key are treated as unique.
func (g *Gate) Commit(ctx context.Context, ev event.InteractionEvent, d event.RewardDecision) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCommitLatency(time.Since(start).Seconds())
	}()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordCommitError()
		return 0, fmt.Errorf("%w: begin: %v", ErrCommitFailed, err)
	}

	outcome, err := g.commitTx(ctx, tx, ev, d)
	if err != nil {
		metrics.RecordCommitError()
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			g.logger.Error(ctx, "rollback failed", logger.Error(rbErr))
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordCommitError()
		return 0, fmt.Errorf("%w: commit: %v", ErrCommitFailed, err)
	}
	return outcome, nil
}

func (g *Gate) commitTx(ctx context.Context, tx *sql.Tx, ev event.InteractionEvent, d event.RewardDecision) (Outcome, error) {
	duplicate, err := g.insertLedger(ctx, tx, ev, d)
	if err != nil {
		return 0, err
	}
	if duplicate {
		// Nothing written; the surrounding transaction commits empty.
		return OutcomeAlreadyApplied, nil
	}

	if err := g.upsertWallet(ctx, tx, ev.ActorID, d); err != nil {
		return 0, err
	}
	if !d.Zeroed() {
		if counter := event.CounterFor(ev.Kind); counter != "" {
			if err := g.bumpCounter(ctx, tx, ev.ActorID, counter); err != nil {
				return 0, err
			}
		}
	}
	for _, id := range d.Achievements {
		if err := g.grantAchievement(ctx, tx, ev.ActorID, id); err != nil {
			return 0, err
		}
	}
	return OutcomeApplied, nil
}

// insertLedger appends the ledger row under a savepoint so a duplicate key
// only aborts the insert, not the transaction. Returns true on redelivery.
// Rows without a dedup key carry the gate's source system and a NULL event
// id, so the unique key never matches them.
func (g *Gate) insertLedger(ctx context.Context, tx *sql.Tx, ev event.InteractionEvent, d event.RewardDecision) (bool, error) {
	sourceSystem := sql.NullString{String: g.source, Valid: true}
	var sourceEventID sql.NullString
	if ev.Dedup != nil {
		sourceSystem = sql.NullString{String: ev.Dedup.SourceSystem, Valid: true}
		sourceEventID = sql.NullString{String: ev.Dedup.SourceEventID, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT ledger_insert"); err != nil {
		return false, fmt.Errorf("%w: savepoint: %v", ErrCommitFailed, err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO reward_ledger (id, source_system, source_event_id, actor_id, kind, xp_delta, embers_delta, zero_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.NewString(), sourceSystem, sourceEventID, ev.ActorID, string(ev.Kind),
		d.XPDelta, d.EmbersDelta, nullIfEmpty(d.ZeroReason), ev.At)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT ledger_insert"); rbErr != nil {
				return false, fmt.Errorf("%w: rollback to savepoint: %v", ErrCommitFailed, rbErr)
			}
			return true, nil
		}
		return false, fmt.Errorf("%w: ledger insert: %v", ErrCommitFailed, err)
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT ledger_insert"); err != nil {
		return false, fmt.Errorf("%w: release savepoint: %v", ErrCommitFailed, err)
	}
	return false, nil
}

func (g *Gate) upsertWallet(ctx context.Context, tx *sql.Tx, actorID string, d event.RewardDecision) error {
	level := 0
	if d.LeveledUp {
		level = d.NewLevel
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (actor_id, xp, embers, level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (actor_id) DO UPDATE SET
			xp = wallets.xp + EXCLUDED.xp,
			embers = wallets.embers + EXCLUDED.embers,
			level = GREATEST(wallets.level, EXCLUDED.level)`,
		actorID, d.XPDelta, d.EmbersDelta, level)
	if err != nil {
		return fmt.Errorf("%w: wallet upsert: %v", ErrCommitFailed, err)
	}
	return nil
}

func (g *Gate) bumpCounter(ctx context.Context, tx *sql.Tx, actorID, counter string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO actor_counters (actor_id, counter, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (actor_id, counter) DO UPDATE SET value = actor_counters.value + 1`,
		actorID, counter)
	if err != nil {
		return fmt.Errorf("%w: counter upsert: %v", ErrCommitFailed, err)
	}
	return nil
}

func (g *Gate) grantAchievement(ctx context.Context, tx *sql.Tx, actorID, achievementID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO achievement_grants (actor_id, achievement_id, granted_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (actor_id, achievement_id) DO NOTHING`,
		actorID, achievementID)
	if err != nil {
		return fmt.Errorf("%w: achievement grant: %v", ErrCommitFailed, err)
	}
	return nil
}

// Wallet loads the actor's current balances, counters, and achievements. A
// never-seen actor comes back zeroed rather than as an error.
func (g *Gate) Wallet(ctx context.Context, actorID string) (event.WalletState, error) {
	w := event.WalletState{
		ActorID:      actorID,
		Counters:     make(map[string]int64),
		Achievements: make(map[string]bool),
	}

	err := g.db.QueryRowContext(ctx,
		`SELECT xp, embers, level FROM wallets WHERE actor_id = $1`, actorID).
		Scan(&w.XP, &w.Embers, &w.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return w, nil
	}
	if err != nil {
		return event.WalletState{}, fmt.Errorf("%w: wallet: %v", ErrLoadWallet, err)
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT counter, value FROM actor_counters WHERE actor_id = $1`, actorID)
	if err != nil {
		return event.WalletState{}, fmt.Errorf("%w: counters: %v", ErrLoadWallet, err)
	}
	defer rows.Close()
	for rows.Next() {
		var counter string
		var value int64
		if err := rows.Scan(&counter, &value); err != nil {
			return event.WalletState{}, fmt.Errorf("%w: counters scan: %v", ErrLoadWallet, err)
		}
		w.Counters[counter] = value
	}
	if err := rows.Err(); err != nil {
		return event.WalletState{}, fmt.Errorf("%w: counters rows: %v", ErrLoadWallet, err)
	}

	grants, err := g.db.QueryContext(ctx,
		`SELECT achievement_id FROM achievement_grants WHERE actor_id = $1`, actorID)
	if err != nil {
		return event.WalletState{}, fmt.Errorf("%w: achievements: %v", ErrLoadWallet, err)
	}
	defer grants.Close()
	for grants.Next() {
		var id string
		if err := grants.Scan(&id); err != nil {
			return event.WalletState{}, fmt.Errorf("%w: achievements scan: %v", ErrLoadWallet, err)
		}
		w.Achievements[id] = true
	}
	if err := grants.Err(); err != nil {
		return event.WalletState{}, fmt.Errorf("%w: achievements rows: %v", ErrLoadWallet, err)
	}

	return w, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
