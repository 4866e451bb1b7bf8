package shared

import (
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a user. IDs are issued by the account service.
type UserID string

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)

// IsValid checks the ID against the accepted format.
func (u UserID) IsValid() bool {
	return userIDRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", NewValidationError("shared", "user_id", "must be 1-64 characters of [A-Za-z0-9_.:-]")
	}
	return uid, nil
}

// ScopeID identifies a class or school. The scope "all" covers every member.
type ScopeID string

// ScopeAll is the global scope.
const ScopeAll ScopeID = "all"

var scopeIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]{0,63}$`)

// IsValid checks the ID against the accepted format.
func (s ScopeID) IsValid() bool {
	return scopeIDRegex.MatchString(string(s))
}

// String returns the string representation.
func (s ScopeID) String() string {
	return string(s)
}

// NewScopeID normalizes and validates a scope ID.
func NewScopeID(id string) (ScopeID, error) {
	sid := ScopeID(strings.ToLower(strings.TrimSpace(id)))
	if !sid.IsValid() {
		return "", NewValidationError("shared", "scope", "must be 1-64 characters of [a-z0-9_.:-]")
	}
	return sid, nil
}

// IdempotencyKey is the client token identifying one logical submission.
type IdempotencyKey string

var idempotencyKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{8,128}$`)

// IsValid checks the key against the accepted format.
func (k IdempotencyKey) IsValid() bool {
	return idempotencyKeyRegex.MatchString(string(k))
}

// String returns the string representation.
func (k IdempotencyKey) String() string {
	return string(k)
}

// ═══════════════════════════════════════════════════════════════════════════
// Role Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Role is the caller role as asserted by the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleAdmin   Role = "admin"
	// RoleService is a trusted collaborator service, not a person.
	RoleService Role = "service"
)

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleParent, RoleAdmin, RoleService:
		return true
	}
	return false
}

// IsPrivileged reports whether the role bypasses scope checks.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleService
}

// ═══════════════════════════════════════════════════════════════════════════
// Clock
// ═══════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so that "today" is injectable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time { return c.T }

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
