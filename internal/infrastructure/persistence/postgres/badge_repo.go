package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// BadgeRepository implements badge.Repository for PostgreSQL.
type BadgeRepository struct {
	conn *Connection
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn *Connection) *BadgeRepository {
	return &BadgeRepository{conn: conn}
}

var _ badge.Repository = (*BadgeRepository)(nil)

// Award implements badge.Repository. The user_badges primary key makes the
// insert write-once; losing it rolls back the XP entry too.
func (r *BadgeRepository) Award(ctx context.Context, ub badge.UserBadge, entry *activity.LedgerEntry) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_badges (user_id, badge_id, earned_at, is_new)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, badge_id) DO NOTHING`,
			string(ub.UserID), string(ub.BadgeID), ub.EarnedAt, ub.IsNew)
		if err != nil {
			return fmt.Errorf("postgres: award badge: %w", classify(err))
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

// ListByUser implements badge.Repository.
func (r *BadgeRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]badge.UserBadge, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT badge_id, earned_at, is_new FROM user_badges
		WHERE user_id = $1
		ORDER BY earned_at, badge_id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list badges: %w", err)
	}
	defer rows.Close()

	var out []badge.UserBadge
	for rows.Next() {
		ub := badge.UserBadge{UserID: userID}
		var id string
		if err := rows.Scan(&id, &ub.EarnedAt, &ub.IsNew); err != nil {
			return nil, fmt.Errorf("postgres: scan badge: %w", err)
		}
		ub.BadgeID = badge.ID(id)
		out = append(out, ub)
	}
	return out, classify(rows.Err())
}

// MarkSeen implements badge.Repository.
func (r *BadgeRepository) MarkSeen(ctx context.Context, userID shared.UserID, ids []badge.ID) (int, error) {
	query := `UPDATE user_badges SET is_new = FALSE WHERE user_id = $1 AND is_new`
	args := []any{string(userID)}
	if len(ids) > 0 {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = string(id)
		}
		query += ` AND badge_id = ANY($2)`
		args = append(args, strs)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark badges seen: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SyncDefinitions implements badge.Repository.
func (r *BadgeRepository) SyncDefinitions(ctx context.Context, defs []badge.Definition) error {
	if len(defs) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range defs {
			criteria, err := json.Marshal(d.Criteria)
			if err != nil {
				return fmt.Errorf("marshal criteria of %s: %w", d.ID, err)
			}
			batch.Queue(`
				INSERT INTO badge_definitions (badge_id, name, description, criteria, xp_reward, rarity, award_only, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
				ON CONFLICT (badge_id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					criteria = EXCLUDED.criteria,
					xp_reward = EXCLUDED.xp_reward,
					rarity = EXCLUDED.rarity,
					award_only = EXCLUDED.award_only,
					updated_at = NOW()`,
				string(d.ID), d.Name, d.Description, criteria, d.XPReward, string(d.Rarity), d.AwardOnly)
		}

		br := tx.SendBatch(ctx, batch)
		for range defs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: sync badge definitions: %w", err)
			}
		}
		return br.Close()
	})
}
