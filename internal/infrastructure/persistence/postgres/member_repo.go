package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// MemberDirectory implements member.Directory for PostgreSQL.
type MemberDirectory struct {
	conn *Connection
}

// NewMemberDirectory creates a new MemberDirectory.
func NewMemberDirectory(conn *Connection) *MemberDirectory {
	return &MemberDirectory{conn: conn}
}

var _ member.Directory = (*MemberDirectory)(nil)

// memberSelect собирает области участника в массив одним запросом.
const memberSelect = `
	SELECT m.user_id, m.timezone, m.joined_at, m.role, m.updated_at,
		COALESCE(array_agg(s.scope_id ORDER BY s.scope_id) FILTER (WHERE s.scope_id IS NOT NULL), '{}')
	FROM members m
	LEFT JOIN member_scopes s ON s.user_id = m.user_id`

const memberGroup = ` GROUP BY m.user_id, m.timezone, m.joined_at, m.role, m.updated_at`

// Upsert implements member.Directory. Области заменяются целиком.
func (d *MemberDirectory) Upsert(ctx context.Context, m *member.Member) error {
	return d.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO members (user_id, timezone, joined_at, role, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				timezone = EXCLUDED.timezone,
				joined_at = EXCLUDED.joined_at,
				role = EXCLUDED.role,
				updated_at = NOW()`,
			string(m.UserID), m.Timezone, m.JoinedAt, string(m.Role))
		if err != nil {
			return fmt.Errorf("postgres: upsert member: %w", classify(err))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM member_scopes WHERE user_id = $1`, string(m.UserID)); err != nil {
			return fmt.Errorf("postgres: clear member scopes: %w", classify(err))
		}
		if len(m.Scopes) == 0 {
			return nil
		}

		rows := make([][]any, len(m.Scopes))
		for i, s := range m.Scopes {
			rows[i] = []any{string(m.UserID), string(s)}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"member_scopes"}, []string{"user_id", "scope_id"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("postgres: copy member scopes: %w", classify(err))
		}
		return nil
	})
}

// Get implements member.Directory.
func (d *MemberDirectory) Get(ctx context.Context, userID shared.UserID) (*member.Member, error) {
	m, err := scanMember(d.conn.QueryRow(ctx, memberSelect+` WHERE m.user_id = $1`+memberGroup, string(userID)))
	if IsNoRows(err) {
		return nil, shared.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get member: %w", classify(err))
	}
	return m, nil
}

// GetMany implements member.Directory.
func (d *MemberDirectory) GetMany(ctx context.Context, userIDs []shared.UserID) (map[shared.UserID]*member.Member, error) {
	out := make(map[shared.UserID]*member.Member, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	list, err := d.list(ctx, memberSelect+` WHERE m.user_id = ANY($1)`+memberGroup, userIDStrings(userIDs))
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		out[m.UserID] = m
	}
	return out, nil
}

// ListScope implements member.Directory.
func (d *MemberDirectory) ListScope(ctx context.Context, scope shared.ScopeID) ([]*member.Member, error) {
	if scope == shared.ScopeAll {
		return d.list(ctx, memberSelect+memberGroup+` ORDER BY m.user_id`)
	}
	return d.list(ctx, memberSelect+`
		WHERE m.user_id IN (SELECT user_id FROM member_scopes WHERE scope_id = $1)`+memberGroup+`
		ORDER BY m.user_id`, string(scope))
}

// ListScopes implements member.Directory.
func (d *MemberDirectory) ListScopes(ctx context.Context) ([]shared.ScopeID, error) {
	rows, err := d.conn.Query(ctx, `SELECT DISTINCT scope_id FROM member_scopes ORDER BY scope_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scopes: %w", err)
	}
	defer rows.Close()

	var out []shared.ScopeID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, shared.ScopeID(s))
	}
	return out, classify(rows.Err())
}

func (d *MemberDirectory) list(ctx context.Context, query string, args ...any) ([]*member.Member, error) {
	rows, err := d.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list members: %w", err)
	}
	defer rows.Close()

	var out []*member.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, classify(rows.Err())
}

func scanMember(row pgx.Row) (*member.Member, error) {
	var (
		m        member.Member
		id, role string
		scopes   []string
	)
	if err := row.Scan(&id, &m.Timezone, &m.JoinedAt, &role, &m.UpdatedAt, &scopes); err != nil {
		return nil, err
	}
	m.UserID = shared.UserID(id)
	m.Role = shared.Role(role)
	for _, s := range scopes {
		m.Scopes = append(m.Scopes, shared.ScopeID(s))
	}
	return &m, nil
}
