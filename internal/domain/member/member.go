// Package member содержит зеркало данных о пользователе, которые движок получает
// от внешних сервисов: часовой пояс, дату регистрации, роль и членство в классах.
// Источник истины - сервис аккаунтов; здесь только копия для расчётов.
package member

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// Member - участник с точки зрения движка.
type Member struct {
	UserID shared.UserID
	// Timezone - IANA-имя пояса; определяет "сегодня" для серий.
	Timezone string
	// JoinedAt - дата создания аккаунта; используется в тай-брейке лидерборда.
	JoinedAt  time.Time
	Role      shared.Role
	Scopes    []shared.ScopeID
	UpdatedAt time.Time
}

// New создаёт участника с валидацией.
func New(userID shared.UserID, tz string, joinedAt time.Time, role shared.Role, scopes []shared.ScopeID) (*Member, error) {
	verr := &shared.ValidationError{Domain: "member"}
	if !userID.IsValid() {
		verr.Add("user_id", "invalid user id")
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			verr.Add("timezone", "unknown timezone "+tz)
		}
	}
	if joinedAt.IsZero() {
		verr.Add("joined_at", "required")
	}
	if role == "" {
		role = shared.RoleStudent
	}
	if !role.IsValid() || role == shared.RoleService {
		verr.Add("role", "unknown role "+string(role))
	}
	for _, s := range scopes {
		if !s.IsValid() || s == shared.ScopeAll {
			verr.Add("scopes", "invalid scope "+string(s))
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	return &Member{
		UserID:   userID,
		Timezone: tz,
		JoinedAt: joinedAt.UTC(),
		Role:     role,
		Scopes:   normalizeScopes(scopes),
	}, nil
}

// Location возвращает часовой пояс участника (UTC по умолчанию).
func (m *Member) Location() *time.Location {
	return timeutil.LoadLocation(m.Timezone)
}

// Today - текущая календарная дата участника.
func (m *Member) Today(now time.Time) timeutil.Date {
	return timeutil.Today(now, m.Location())
}

// InScope проверяет членство. Область ScopeAll включает всех.
func (m *Member) InScope(scope shared.ScopeID) bool {
	if scope == shared.ScopeAll {
		return true
	}
	for _, s := range m.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SharesScope - есть ли у двух участников общий класс или школа.
func (m *Member) SharesScope(other *Member) bool {
	for _, s := range other.Scopes {
		if m.InScope(s) {
			return true
		}
	}
	return false
}

func normalizeScopes(scopes []shared.ScopeID) []shared.ScopeID {
	seen := make(map[shared.ScopeID]struct{}, len(scopes))
	out := make([]shared.ScopeID, 0, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Directory - хранилище участников.
type Directory interface {
	// Upsert создаёт или обновляет участника вместе с его областями.
	Upsert(ctx context.Context, m *Member) error

	// Get возвращает участника.
	// Возвращает ErrMemberNotFound, если участника нет.
	Get(ctx context.Context, userID shared.UserID) (*Member, error)

	// GetMany возвращает найденных участников; отсутствующие пропускаются.
	GetMany(ctx context.Context, userIDs []shared.UserID) (map[shared.UserID]*Member, error)

	// ListScope возвращает всех участников области (всех для ScopeAll).
	ListScope(ctx context.Context, scope shared.ScopeID) ([]*Member, error)

	// ListScopes возвращает все известные области.
	ListScopes(ctx context.Context) ([]shared.ScopeID, error)
}
