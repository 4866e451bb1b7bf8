package memory

import (
	"context"
	"sort"

	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// ChallengeRepo implements challenge.Repository.
type ChallengeRepo struct {
	db *DB
}

// NewChallengeRepo creates a ChallengeRepo over db.
func NewChallengeRepo(db *DB) *ChallengeRepo {
	return &ChallengeRepo{db: db}
}

var _ challenge.Repository = (*ChallengeRepo)(nil)

// Create implements challenge.Repository.
func (r *ChallengeRepo) Create(ctx context.Context, d challenge.Definition) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.challenges[d.ID]; ok {
		return shared.ErrAlreadyExists
	}
	r.db.challenges[d.ID] = d
	return nil
}

// Upsert implements challenge.Repository.
func (r *ChallengeRepo) Upsert(ctx context.Context, d challenge.Definition) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.challenges[d.ID] = d
	return nil
}

// Get implements challenge.Repository.
func (r *ChallengeRepo) Get(ctx context.Context, id challenge.ID) (*challenge.Definition, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	d, ok := r.db.challenges[id]
	if !ok {
		return nil, shared.ErrChallengeNotFound
	}
	return &d, nil
}

// ListAccepting implements challenge.Repository.
func (r *ChallengeRepo) ListAccepting(ctx context.Context, today timeutil.Date, graceDays int) ([]challenge.Definition, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []challenge.Definition
	for _, d := range r.db.challenges {
		if d.AcceptsProgress(today, graceDays) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordCompletion implements challenge.Repository.
func (r *ChallengeRepo) RecordCompletion(ctx context.Context, c challenge.Completion, entry *activity.LedgerEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if err := r.db.fault("complete_challenge"); err != nil {
		return err
	}

	done := r.db.completions[c.ChallengeID]
	if _, ok := done[c.UserID]; ok {
		return shared.ErrRaceLost
	}
	if entry != nil && r.db.hasLedger(entry.SourceType, entry.SourceRef) {
		return shared.ErrRaceLost
	}

	if done == nil {
		done = make(map[shared.UserID]challenge.Completion)
		r.db.completions[c.ChallengeID] = done
	}
	done[c.UserID] = c
	if entry != nil {
		r.db.insertLedger(*entry)
	}
	return nil
}

// GetCompletion implements challenge.Repository.
func (r *ChallengeRepo) GetCompletion(ctx context.Context, id challenge.ID, userID shared.UserID) (*challenge.Completion, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	c, ok := r.db.completions[id][userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// CompletionsByUser implements challenge.Repository.
func (r *ChallengeRepo) CompletionsByUser(ctx context.Context, userID shared.UserID) (map[challenge.ID]challenge.Completion, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make(map[challenge.ID]challenge.Completion)
	for id, byUser := range r.db.completions {
		if c, ok := byUser[userID]; ok {
			out[id] = c
		}
	}
	return out, nil
}
