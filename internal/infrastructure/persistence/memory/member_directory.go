package memory

import (
	"context"
	"sort"

	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// MemberDirectory implements member.Directory.
type MemberDirectory struct {
	db *DB
}

// NewMemberDirectory creates a MemberDirectory over db.
func NewMemberDirectory(db *DB) *MemberDirectory {
	return &MemberDirectory{db: db}
}

var _ member.Directory = (*MemberDirectory)(nil)

func cloneMember(m *member.Member) *member.Member {
	c := *m
	c.Scopes = append([]shared.ScopeID(nil), m.Scopes...)
	return &c
}

// Upsert implements member.Directory.
func (d *MemberDirectory) Upsert(ctx context.Context, m *member.Member) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()

	d.db.members[m.UserID] = cloneMember(m)
	return nil
}

// Get implements member.Directory.
func (d *MemberDirectory) Get(ctx context.Context, userID shared.UserID) (*member.Member, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()

	m, ok := d.db.members[userID]
	if !ok {
		return nil, shared.ErrMemberNotFound
	}
	return cloneMember(m), nil
}

// GetMany implements member.Directory.
func (d *MemberDirectory) GetMany(ctx context.Context, userIDs []shared.UserID) (map[shared.UserID]*member.Member, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()

	out := make(map[shared.UserID]*member.Member, len(userIDs))
	for _, id := range userIDs {
		if m, ok := d.db.members[id]; ok {
			out[id] = cloneMember(m)
		}
	}
	return out, nil
}

// ListScope implements member.Directory.
func (d *MemberDirectory) ListScope(ctx context.Context, scope shared.ScopeID) ([]*member.Member, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()

	var out []*member.Member
	for _, m := range d.db.members {
		if m.InScope(scope) {
			out = append(out, cloneMember(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ListScopes implements member.Directory.
func (d *MemberDirectory) ListScopes(ctx context.Context) ([]shared.ScopeID, error) {
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()

	seen := make(map[shared.ScopeID]struct{})
	for _, m := range d.db.members {
		for _, s := range m.Scopes {
			seen[s] = struct{}{}
		}
	}
	out := make([]shared.ScopeID, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
