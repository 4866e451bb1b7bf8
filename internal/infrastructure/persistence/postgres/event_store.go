package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT STORE
// Implements activity.Store and activity.Ledger. The idempotency guard is the
// uq_activity_idempotency constraint: INSERT ... ON CONFLICT DO NOTHING is the
// single conditional write, never read-then-write.
// ══════════════════════════════════════════════════════════════════════════════

// EventStore implements activity.Store and activity.Ledger for PostgreSQL.
type EventStore struct {
	conn *Connection
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Connection) *EventStore {
	return &EventStore{conn: conn}
}

var (
	_ activity.Store  = (*EventStore)(nil)
	_ activity.Ledger = (*EventStore)(nil)
)

const eventColumns = `
	e.event_id, e.user_id, e.kind, e.quantity, e.occurred_on, e.received_at,
	e.idempotency_key, e.book_id, e.genre, e.schema_version, e.fingerprint,
	(r.event_id IS NOT NULL) AS reversed`

const eventFrom = `
	FROM activity_events e
	LEFT JOIN event_reversals r ON r.event_id = e.event_id`

const ledgerColumns = `entry_id, user_id, amount, reason, source_type, source_ref, effective_on, created_at`

const ledgerSelect = `entry_id::text, user_id, amount, reason, source_type, source_ref, effective_on, created_at`

// Append implements activity.Store.
func (s *EventStore) Append(ctx context.Context, ev *activity.Event, entry *activity.LedgerEntry) (activity.AppendResult, error) {
	ctx, cancel := s.conn.withTimeout(ctx)
	defer cancel()

	var res activity.AppendResult
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO activity_events (
				user_id, kind, quantity, occurred_on, received_at, idempotency_key,
				book_id, genre, schema_version, fingerprint
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id, idempotency_key) DO NOTHING
			RETURNING event_id`,
			string(ev.UserID), string(ev.Kind), ev.Quantity, ev.OccurredOn.Time(time.UTC), ev.ReceivedAt,
			string(ev.IdempotencyKey), ev.BookID, ev.Genre, ev.SchemaVersion, ev.Fingerprint,
		).Scan(&id)

		if IsNoRows(err) {
			// The conflicting row is committed by now; read it back.
			existing, err := scanEvent(tx.QueryRow(ctx, `SELECT`+eventColumns+eventFrom+`
				WHERE e.user_id = $1 AND e.idempotency_key = $2`,
				string(ev.UserID), string(ev.IdempotencyKey)))
			if err != nil {
				return fmt.Errorf("load duplicate: %w", err)
			}
			res = activity.AppendResult{Event: existing, Duplicate: true}
			return nil
		}
		if err != nil {
			return classify(err)
		}

		stored := *ev
		stored.ID = id
		stored.Reversed = false
		res = activity.AppendResult{Event: &stored}

		if entry != nil {
			e := *entry
			e.SourceRef = activity.EventRef(id)
			if _, err := insertLedger(ctx, tx, e); err != nil {
				return err
			}
			res.Entry = &e
		}
		return nil
	})
	if err != nil {
		return activity.AppendResult{}, fmt.Errorf("postgres: append event: %w", err)
	}
	return res, nil
}

// Get implements activity.Store.
func (s *EventStore) Get(ctx context.Context, eventID int64) (*activity.Event, error) {
	ev, err := scanEvent(s.conn.QueryRow(ctx, `SELECT`+eventColumns+eventFrom+` WHERE e.event_id = $1`, eventID))
	if IsNoRows(err) {
		return nil, shared.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get event: %w", classify(err))
	}
	return ev, nil
}

// ListByUser implements activity.Store.
func (s *EventStore) ListByUser(ctx context.Context, userID shared.UserID) ([]*activity.Event, error) {
	rows, err := s.conn.Query(ctx, `SELECT`+eventColumns+eventFrom+`
		WHERE e.user_id = $1 ORDER BY e.event_id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []*activity.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, classify(rows.Err())
}

// ListByUsers implements activity.Store.
func (s *EventStore) ListByUsers(ctx context.Context, userIDs []shared.UserID, r timeutil.DateRange) (map[shared.UserID][]*activity.Event, error) {
	out := make(map[shared.UserID][]*activity.Event, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query := `SELECT` + eventColumns + eventFrom + ` WHERE e.user_id = ANY($1)`
	args := []any{userIDStrings(userIDs)}
	if r != (timeutil.DateRange{}) {
		query += ` AND e.occurred_on >= $2 AND e.occurred_on < $3`
		args = append(args, r.From.Time(time.UTC), r.To.Time(time.UTC))
	}
	query += ` ORDER BY e.event_id`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out[ev.UserID] = append(out[ev.UserID], ev)
	}
	return out, classify(rows.Err())
}

// Reverse implements activity.Store.
func (s *EventStore) Reverse(ctx context.Context, rev activity.Reversal, entry *activity.LedgerEntry) (activity.ReverseResult, error) {
	ctx, cancel := s.conn.withTimeout(ctx)
	defer cancel()

	var res activity.ReverseResult
	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO event_reversals (event_id, user_id, reason, reversed_by, created_at)
			SELECT event_id, user_id, $2, $3, $4 FROM activity_events WHERE event_id = $1
			ON CONFLICT (event_id) DO NOTHING`,
			rev.EventID, rev.Reason, rev.ReversedBy, rev.CreatedAt)
		if err != nil {
			return classify(err)
		}

		ev, err := scanEvent(tx.QueryRow(ctx, `SELECT`+eventColumns+eventFrom+` WHERE e.event_id = $1`, rev.EventID))
		if IsNoRows(err) {
			return shared.ErrEventNotFound
		}
		if err != nil {
			return err
		}
		res.Event = ev
		ref := activity.EventRef(rev.EventID)

		if tag.RowsAffected() == 0 {
			res.AlreadyReversed = true
			existing, err := scanLedger(tx.QueryRow(ctx, `SELECT `+ledgerSelect+` FROM xp_ledger
				WHERE source_type = $1 AND source_ref = $2`, string(activity.SourceReversal), ref))
			if err == nil {
				res.Entry = &existing
			} else if !IsNoRows(err) {
				return err
			}
			return nil
		}

		if entry != nil {
			e := *entry
			e.SourceRef = ref
			if _, err := insertLedger(ctx, tx, e); err != nil {
				return err
			}
			res.Entry = &e
		}
		return nil
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return activity.ReverseResult{}, err
		}
		return activity.ReverseResult{}, fmt.Errorf("postgres: reverse event: %w", err)
	}
	return res, nil
}

// UsersWithEventsSince implements activity.Store.
func (s *EventStore) UsersWithEventsSince(ctx context.Context, since time.Time, after shared.UserID, limit int) ([]shared.UserID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT user_id FROM activity_events
		WHERE received_at > $1 AND user_id > $2
		ORDER BY user_id
		LIMIT $3`, since, string(after), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent users: %w", err)
	}
	defer rows.Close()

	var out []shared.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, shared.UserID(id))
	}
	return out, classify(rows.Err())
}

// Entries implements activity.Ledger.
func (s *EventStore) Entries(ctx context.Context, userID shared.UserID) ([]activity.LedgerEntry, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+ledgerSelect+` FROM xp_ledger
		WHERE user_id = $1 ORDER BY created_at, entry_id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger: %w", err)
	}
	defer rows.Close()

	var out []activity.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}

// EntriesForUsers implements activity.Ledger.
func (s *EventStore) EntriesForUsers(ctx context.Context, userIDs []shared.UserID) (map[shared.UserID][]activity.LedgerEntry, error) {
	out := make(map[shared.UserID][]activity.LedgerEntry, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT `+ledgerSelect+` FROM xp_ledger
		WHERE user_id = ANY($1) ORDER BY created_at, entry_id`, userIDStrings(userIDs))
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger for users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		out[e.UserID] = append(out[e.UserID], e)
	}
	return out, classify(rows.Err())
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// insertLedger writes e unless (source_type, source_ref) exists.
// Returns false when the entry already existed.
func insertLedger(ctx context.Context, q Querier, e activity.LedgerEntry) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO xp_ledger (`+ledgerColumns+`)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_type, source_ref) DO NOTHING`,
		e.ID, string(e.UserID), e.Amount, e.Reason, string(e.SourceType), e.SourceRef,
		e.EffectiveOn.Time(time.UTC), e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", classify(err))
	}
	return tag.RowsAffected() == 1, nil
}

func scanEvent(row pgx.Row) (*activity.Event, error) {
	var (
		ev                activity.Event
		userID, kind, key string
		occurredOn        time.Time
	)
	err := row.Scan(
		&ev.ID, &userID, &kind, &ev.Quantity, &occurredOn, &ev.ReceivedAt,
		&key, &ev.BookID, &ev.Genre, &ev.SchemaVersion, &ev.Fingerprint, &ev.Reversed,
	)
	if err != nil {
		return nil, err
	}
	ev.UserID = shared.UserID(userID)
	ev.Kind = activity.Kind(kind)
	ev.IdempotencyKey = shared.IdempotencyKey(key)
	ev.OccurredOn = timeutil.DateOf(occurredOn, time.UTC)
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return &ev, nil
}

func scanLedger(row pgx.Row) (activity.LedgerEntry, error) {
	var (
		e              activity.LedgerEntry
		userID, source string
		effectiveOn    time.Time
	)
	err := row.Scan(&e.ID, &userID, &e.Amount, &e.Reason, &source, &e.SourceRef, &effectiveOn, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.UserID = shared.UserID(userID)
	e.SourceType = activity.SourceType(source)
	e.EffectiveOn = timeutil.DateOf(effectiveOn, time.UTC)
	return e, nil
}

func userIDStrings(ids []shared.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
