package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/memory"
)

func newPolicy(t *testing.T) *access.Policy {
	t.Helper()
	dir := memory.NewMemberDirectory(memory.NewDB())
	joined := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	for id, scopes := range map[shared.UserID][]shared.ScopeID{
		"amir": {"class-7b", "school-1"},
		"zara": {"class-7a", "school-1"},
		"t1":   {"class-7b"},
	} {
		m, err := member.New(id, "", joined, shared.RoleStudent, scopes)
		require.NoError(t, err)
		require.NoError(t, dir.Upsert(context.Background(), m))
	}
	return access.NewPolicy(dir)
}

func TestCanViewUser(t *testing.T) {
	p := newPolicy(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		pr      access.Principal
		target  shared.UserID
		allowed bool
	}{
		{"self", access.Principal{Subject: "amir", Role: shared.RoleStudent}, "amir", true},
		{"classmate", access.Principal{Subject: "zara", Role: shared.RoleStudent}, "amir", false},
		{"teacher of class", access.Principal{Subject: "t1", Role: shared.RoleTeacher}, "amir", true},
		{"teacher of other class", access.Principal{Subject: "t1", Role: shared.RoleTeacher}, "zara", false},
		{"parent of ward", access.Principal{Subject: "p1", Role: shared.RoleParent, Wards: []shared.UserID{"zara"}}, "zara", true},
		{"parent of stranger", access.Principal{Subject: "p1", Role: shared.RoleParent, Wards: []shared.UserID{"zara"}}, "amir", false},
		{"admin", access.Principal{Subject: "root", Role: shared.RoleAdmin}, "zara", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CanViewUser(ctx, tt.pr, tt.target)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, shared.IsScope(err))
			}
		})
	}
}

func TestCanViewScope(t *testing.T) {
	p := newPolicy(t)
	ctx := context.Background()
	student := access.Principal{Subject: "amir", Role: shared.RoleStudent}

	assert.NoError(t, p.CanViewScope(ctx, student, "class-7b"))
	assert.NoError(t, p.CanViewScope(ctx, student, shared.ScopeAll))
	assert.True(t, shared.IsScope(p.CanViewScope(ctx, student, "class-7a")))

	parent := access.Principal{Subject: "p1", Role: shared.RoleParent, Wards: []shared.UserID{"zara"}}
	assert.NoError(t, p.CanViewScope(ctx, parent, "class-7a"))
}

func TestCanManageChallenge(t *testing.T) {
	p := newPolicy(t)
	ctx := context.Background()
	teacher := access.Principal{Subject: "t1", Role: shared.RoleTeacher}

	own := challenge.Definition{Scope: challenge.Scope{ScopeIDs: []shared.ScopeID{"class-7b"}}}
	other := challenge.Definition{Scope: challenge.Scope{ScopeIDs: []shared.ScopeID{"class-7a"}}}

	assert.NoError(t, p.CanManageChallenge(ctx, teacher, own))
	assert.True(t, shared.IsScope(p.CanManageChallenge(ctx, teacher, other)))
	assert.True(t, shared.IsScope(p.CanManageChallenge(ctx, access.Principal{Subject: "amir", Role: shared.RoleStudent}, own)))
	assert.NoError(t, p.CanManageChallenge(ctx, access.Principal{Role: shared.RoleAdmin}, other))
}

func TestCanSubmit(t *testing.T) {
	p := newPolicy(t)

	assert.NoError(t, p.CanSubmit(access.Principal{Subject: "amir", Role: shared.RoleStudent}, "amir"))
	assert.NoError(t, p.CanSubmit(access.System(), "amir"))
	assert.True(t, shared.IsScope(p.CanSubmit(access.Principal{Subject: "zara", Role: shared.RoleStudent}, "amir")))
}
