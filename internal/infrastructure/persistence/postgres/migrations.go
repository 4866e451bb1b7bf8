package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns applied versions.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// A session advisory lock keeps concurrent replicas from racing.
func (m *Migrator) Migrate(ctx context.Context) error {
	lockConn, err := m.conn.Pool().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire: %v", ErrMigrationFailed, err)
	}
	defer lockConn.Release()

	if _, err := lockConn.Exec(ctx, "SELECT pg_advisory_lock(hashtext('reading-engine-migrate'))"); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrMigrationFailed, err)
	}
	defer func() {
		_, _ = lockConn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(hashtext('reading-engine-migrate'))")
	}()

	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Status returns the migration status.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_members", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_activity_log", UpSQL: migration002Up(eventPartitions), DownSQL: migration002Down},
		{Version: 3, Name: "create_awards", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: MEMBERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS members (
    user_id    VARCHAR(64) PRIMARY KEY,
    timezone   VARCHAR(64) NOT NULL DEFAULT '',
    joined_at  TIMESTAMPTZ NOT NULL,
    role       VARCHAR(16) NOT NULL DEFAULT 'student',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_role CHECK (role IN ('student', 'teacher', 'parent', 'admin'))
);

CREATE TABLE IF NOT EXISTS member_scopes (
    user_id  VARCHAR(64) NOT NULL REFERENCES members(user_id) ON DELETE CASCADE,
    scope_id VARCHAR(64) NOT NULL,
    PRIMARY KEY (user_id, scope_id)
);

CREATE INDEX IF NOT EXISTS idx_member_scopes_scope ON member_scopes(scope_id);
`

const migration001Down = `
DROP TABLE IF EXISTS member_scopes;
DROP TABLE IF EXISTS members;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACTIVITY LOG AND LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// eventPartitions is the number of hash partitions of activity_events.
const eventPartitions = 8

// migration002Up creates the append-only log. The log is hash-partitioned by
// user so that per-user scans touch one partition; the idempotency constraint
// includes the partition key and is enforced per partition.
func migration002Up(partitions int) string {
	var b strings.Builder
	b.WriteString(`
CREATE TABLE IF NOT EXISTS activity_events (
    event_id        BIGSERIAL,
    user_id         VARCHAR(64) NOT NULL,
    kind            VARCHAR(32) NOT NULL,
    quantity        BIGINT NOT NULL,
    occurred_on     DATE NOT NULL,
    received_at     TIMESTAMPTZ NOT NULL,
    idempotency_key VARCHAR(128) NOT NULL,
    book_id         VARCHAR(128) NOT NULL DEFAULT '',
    genre           VARCHAR(64) NOT NULL DEFAULT '',
    schema_version  SMALLINT NOT NULL DEFAULT 1,
    fingerprint     CHAR(64) NOT NULL,

    PRIMARY KEY (user_id, event_id),
    CONSTRAINT uq_activity_idempotency UNIQUE (user_id, idempotency_key),
    CONSTRAINT valid_quantity CHECK (quantity >= 0)
) PARTITION BY HASH (user_id);
`)
	for i := 0; i < partitions; i++ {
		fmt.Fprintf(&b,
			"CREATE TABLE IF NOT EXISTS activity_events_p%d PARTITION OF activity_events FOR VALUES WITH (MODULUS %d, REMAINDER %d);\n",
			i, partitions, i)
	}
	b.WriteString(`
CREATE INDEX IF NOT EXISTS idx_activity_events_id ON activity_events(event_id);
CREATE INDEX IF NOT EXISTS idx_activity_events_user_day ON activity_events(user_id, occurred_on);
CREATE INDEX IF NOT EXISTS idx_activity_events_received ON activity_events(received_at);

CREATE TABLE IF NOT EXISTS event_reversals (
    event_id    BIGINT PRIMARY KEY,
    user_id     VARCHAR(64) NOT NULL,
    reason      TEXT NOT NULL,
    reversed_by VARCHAR(128) NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS xp_ledger (
    entry_id     UUID PRIMARY KEY,
    user_id      VARCHAR(64) NOT NULL,
    amount       BIGINT NOT NULL,
    reason       TEXT NOT NULL,
    source_type  VARCHAR(16) NOT NULL,
    source_ref   VARCHAR(160) NOT NULL,
    effective_on DATE NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_xp_ledger_source UNIQUE (source_type, source_ref),
    CONSTRAINT valid_source CHECK (source_type IN ('event', 'reversal', 'badge', 'challenge')),
    CONSTRAINT negative_only_reversal CHECK (amount >= 0 OR source_type = 'reversal')
);

CREATE INDEX IF NOT EXISTS idx_xp_ledger_user ON xp_ledger(user_id, created_at);
`)
	return b.String()
}

const migration002Down = `
DROP TABLE IF EXISTS xp_ledger;
DROP TABLE IF EXISTS event_reversals;
DROP TABLE IF EXISTS activity_events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: BADGES AND CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS badge_definitions (
    badge_id    VARCHAR(64) PRIMARY KEY,
    name        VARCHAR(128) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    criteria    JSONB NOT NULL DEFAULT '[]'::jsonb,
    xp_reward   BIGINT NOT NULL DEFAULT 0,
    rarity      VARCHAR(16) NOT NULL DEFAULT 'common',
    award_only  BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_badges (
    user_id   VARCHAR(64) NOT NULL,
    badge_id  VARCHAR(64) NOT NULL,
    earned_at TIMESTAMPTZ NOT NULL,
    is_new    BOOLEAN NOT NULL DEFAULT TRUE,
    PRIMARY KEY (user_id, badge_id)
);

CREATE TABLE IF NOT EXISTS challenges (
    challenge_id VARCHAR(64) PRIMARY KEY,
    name         VARCHAR(160) NOT NULL,
    metric       VARCHAR(32) NOT NULL,
    target       BIGINT NOT NULL,
    start_date   DATE NOT NULL,
    end_date     DATE NOT NULL,
    scope_ids    TEXT[] NOT NULL DEFAULT '{}',
    user_ids     TEXT[] NOT NULL DEFAULT '{}',
    xp_reward    BIGINT NOT NULL DEFAULT 0,
    badge_id     VARCHAR(64) NOT NULL DEFAULT '',
    created_by   VARCHAR(128) NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_target CHECK (target > 0),
    CONSTRAINT valid_window CHECK (end_date > start_date)
);

CREATE INDEX IF NOT EXISTS idx_challenges_window ON challenges(start_date, end_date);

CREATE TABLE IF NOT EXISTS challenge_completions (
    challenge_id VARCHAR(64) NOT NULL REFERENCES challenges(challenge_id),
    user_id      VARCHAR(64) NOT NULL,
    completed_at TIMESTAMPTZ NOT NULL,
    progress     BIGINT NOT NULL,
    PRIMARY KEY (challenge_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_challenge_completions_user ON challenge_completions(user_id);
`

const migration003Down = `
DROP TABLE IF EXISTS challenge_completions;
DROP TABLE IF EXISTS challenges;
DROP TABLE IF EXISTS user_badges;
DROP TABLE IF EXISTS badge_definitions;
`
