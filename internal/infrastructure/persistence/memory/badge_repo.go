package memory

import (
	"context"
	"sort"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/badge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// BadgeRepo implements badge.Repository.
type BadgeRepo struct {
	db *DB
}

// NewBadgeRepo creates a BadgeRepo over db.
func NewBadgeRepo(db *DB) *BadgeRepo {
	return &BadgeRepo{db: db}
}

var _ badge.Repository = (*BadgeRepo)(nil)

// Award implements badge.Repository.
func (r *BadgeRepo) Award(ctx context.Context, ub badge.UserBadge, entry *activity.LedgerEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if err := r.db.fault("award_badge"); err != nil {
		return err
	}

	held := r.db.userBadges[ub.UserID]
	if _, ok := held[ub.BadgeID]; ok {
		return shared.ErrRaceLost
	}
	if entry != nil && r.db.hasLedger(entry.SourceType, entry.SourceRef) {
		return shared.ErrRaceLost
	}

	if held == nil {
		held = make(map[badge.ID]badge.UserBadge)
		r.db.userBadges[ub.UserID] = held
	}
	held[ub.BadgeID] = ub
	if entry != nil {
		r.db.insertLedger(*entry)
	}
	return nil
}

// ListByUser implements badge.Repository.
func (r *BadgeRepo) ListByUser(ctx context.Context, userID shared.UserID) ([]badge.UserBadge, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]badge.UserBadge, 0, len(r.db.userBadges[userID]))
	for _, ub := range r.db.userBadges[userID] {
		out = append(out, ub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].BadgeID < out[j].BadgeID
	})
	return out, nil
}

// MarkSeen implements badge.Repository.
func (r *BadgeRepo) MarkSeen(ctx context.Context, userID shared.UserID, ids []badge.ID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	want := make(map[badge.ID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	changed := 0
	for id, ub := range r.db.userBadges[userID] {
		if !ub.IsNew {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[id]; !ok {
				continue
			}
		}
		ub.IsNew = false
		r.db.userBadges[userID][id] = ub
		changed++
	}
	return changed, nil
}

// SyncDefinitions implements badge.Repository.
func (r *BadgeRepo) SyncDefinitions(ctx context.Context, defs []badge.Definition) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, d := range defs {
		r.db.badgeDefs[d.ID] = d
	}
	return nil
}
