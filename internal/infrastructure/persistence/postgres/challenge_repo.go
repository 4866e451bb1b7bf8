package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ChallengeRepository implements challenge.Repository for PostgreSQL.
type ChallengeRepository struct {
	conn *Connection
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(conn *Connection) *ChallengeRepository {
	return &ChallengeRepository{conn: conn}
}

var _ challenge.Repository = (*ChallengeRepository)(nil)

const challengeColumns = `challenge_id, name, metric, target, start_date, end_date,
	scope_ids, user_ids, xp_reward, badge_id, created_by, created_at`

const challengeInsert = `INSERT INTO challenges (` + challengeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func challengeArgs(d challenge.Definition) []any {
	scopes := make([]string, len(d.Scope.ScopeIDs))
	for i, s := range d.Scope.ScopeIDs {
		scopes[i] = string(s)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		string(d.ID), d.Name, string(d.Metric), d.Target,
		d.StartDate.Time(time.UTC), d.EndDate.Time(time.UTC),
		scopes, userIDStrings(d.Scope.UserIDs), d.XPReward, string(d.BadgeID), d.CreatedBy, createdAt,
	}
}

// Create implements challenge.Repository.
func (r *ChallengeRepository) Create(ctx context.Context, d challenge.Definition) error {
	if _, err := r.conn.Exec(ctx, challengeInsert, challengeArgs(d)...); err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create challenge: %w", err)
	}
	return nil
}

// Upsert implements challenge.Repository.
func (r *ChallengeRepository) Upsert(ctx context.Context, d challenge.Definition) error {
	_, err := r.conn.Exec(ctx, challengeInsert+`
		ON CONFLICT (challenge_id) DO UPDATE SET
			name = EXCLUDED.name,
			metric = EXCLUDED.metric,
			target = EXCLUDED.target,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			scope_ids = EXCLUDED.scope_ids,
			user_ids = EXCLUDED.user_ids,
			xp_reward = EXCLUDED.xp_reward,
			badge_id = EXCLUDED.badge_id`, challengeArgs(d)...)
	if err != nil {
		return fmt.Errorf("postgres: upsert challenge: %w", err)
	}
	return nil
}

// Get implements challenge.Repository.
func (r *ChallengeRepository) Get(ctx context.Context, id challenge.ID) (*challenge.Definition, error) {
	d, err := scanChallenge(r.conn.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE challenge_id = $1`, string(id)))
	if IsNoRows(err) {
		return nil, shared.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get challenge: %w", classify(err))
	}
	return &d, nil
}

// ListAccepting implements challenge.Repository.
func (r *ChallengeRepository) ListAccepting(ctx context.Context, today timeutil.Date, graceDays int) ([]challenge.Definition, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+challengeColumns+` FROM challenges
		WHERE start_date <= $1 AND end_date + $2::int > $1
		ORDER BY challenge_id`, today.Time(time.UTC), graceDays)
	if err != nil {
		return nil, fmt.Errorf("postgres: list challenges: %w", err)
	}
	defer rows.Close()

	var out []challenge.Definition
	for rows.Next() {
		d, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan challenge: %w", err)
		}
		out = append(out, d)
	}
	return out, classify(rows.Err())
}

// RecordCompletion implements challenge.Repository.
func (r *ChallengeRepository) RecordCompletion(ctx context.Context, c challenge.Completion, entry *activity.LedgerEntry) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO challenge_completions (challenge_id, user_id, completed_at, progress)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (challenge_id, user_id) DO NOTHING`,
			string(c.ChallengeID), string(c.UserID), c.CompletedAt, c.Progress)
		if err != nil {
			return fmt.Errorf("postgres: record completion: %w", classify(err))
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrRaceLost
		}
		if entry == nil {
			return nil
		}
		inserted, err := insertLedger(ctx, tx, *entry)
		if err != nil {
			return err
		}
		if !inserted {
			return shared.ErrRaceLost
		}
		return nil
	})
}

// GetCompletion implements challenge.Repository.
func (r *ChallengeRepository) GetCompletion(ctx context.Context, id challenge.ID, userID shared.UserID) (*challenge.Completion, error) {
	c := challenge.Completion{ChallengeID: id, UserID: userID}
	err := r.conn.QueryRow(ctx, `
		SELECT completed_at, progress FROM challenge_completions
		WHERE challenge_id = $1 AND user_id = $2`, string(id), string(userID)).Scan(&c.CompletedAt, &c.Progress)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get completion: %w", classify(err))
	}
	return &c, nil
}

// CompletionsByUser implements challenge.Repository.
func (r *ChallengeRepository) CompletionsByUser(ctx context.Context, userID shared.UserID) (map[challenge.ID]challenge.Completion, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT challenge_id, completed_at, progress FROM challenge_completions
		WHERE user_id = $1`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list completions: %w", err)
	}
	defer rows.Close()

	out := make(map[challenge.ID]challenge.Completion)
	for rows.Next() {
		c := challenge.Completion{UserID: userID}
		var id string
		if err := rows.Scan(&id, &c.CompletedAt, &c.Progress); err != nil {
			return nil, err
		}
		c.ChallengeID = challenge.ID(id)
		out[c.ChallengeID] = c
	}
	return out, classify(rows.Err())
}

func scanChallenge(row pgx.Row) (challenge.Definition, error) {
	var (
		d                   challenge.Definition
		id, metric, badgeID string
		start, end          time.Time
		scopes, users       []string
	)
	err := row.Scan(&id, &d.Name, &metric, &d.Target, &start, &end,
		&scopes, &users, &d.XPReward, &badgeID, &d.CreatedBy, &d.CreatedAt)
	if err != nil {
		return d, err
	}
	d.ID = challenge.ID(id)
	d.Metric = progress.Metric(metric)
	d.BadgeID = badge.ID(badgeID)
	d.StartDate = timeutil.DateOf(start, time.UTC)
	d.EndDate = timeutil.DateOf(end, time.UTC)
	for _, s := range scopes {
		d.Scope.ScopeIDs = append(d.Scope.ScopeIDs, shared.ScopeID(s))
	}
	for _, u := range users {
		d.Scope.UserIDs = append(d.Scope.UserIDs, shared.UserID(u))
	}
	return d, nil
}
