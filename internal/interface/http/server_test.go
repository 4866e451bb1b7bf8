package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/reading-engine/config"
	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/application/userstate"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/internal/infrastructure/persistence/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

const (
	testSecret     = "test-secret"
	testServiceKey = "ingest-service-key"
)

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

type testAPI struct {
	t      *testing.T
	server *Server
	auth   *Authenticator
	health *HealthChecker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cat, err := config.DefaultCatalog()
	require.NoError(t, err)
	calc := progress.NewCalculator(cat.Rules())
	clock := shared.FixedClock{T: time.Date(2026, 2, 10, 18, 0, 0, 0, time.UTC)}

	db := memory.NewDB()
	store := memory.NewEventStore(db)
	badges := memory.NewBadgeRepo(db)
	challenges := memory.NewChallengeRepo(db)
	members := memory.NewMemberDirectory(db)
	policy := access.NewPolicy(members)
	loader := userstate.NewLoader(store, store, members, badges, calc, clock)
	awards := command.NewAwardEvaluator(loader, cat.BadgeCatalog(), badges, challenges, nopPublisher{},
		command.AwardEvaluatorConfig{ChallengeGraceDays: 3, MaxRetries: 3}, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testServiceKey), bcrypt.MinCost)
	require.NoError(t, err)
	auth := NewAuthenticator(AuthConfig{JWTSecret: testSecret, JWTIssuer: "accounts", ServiceKeyHash: string(hash)}, nil)
	health := NewHealthChecker("test", time.Second)

	deps := Dependencies{
		SubmitEvent: command.NewSubmitEventHandler(store, loader, policy, awards, nopPublisher{},
			command.SubmitEventHandlerConfig{MaxFutureDays: 1}, nil),
		ReverseEvent:      command.NewReverseEventHandler(store, store, loader, nopPublisher{}, nil),
		SyncMember:        command.NewSyncMemberHandler(members, nopPublisher{}, clock, nil),
		AcknowledgeBadges: command.NewAcknowledgeBadgesHandler(badges, nil),
		CreateChallenge:   command.NewCreateChallengeHandler(challenges, cat.BadgeCatalog(), policy, clock, nil),
		GetLeaderboard: query.NewGetLeaderboardHandler(members, store, store, memory.NewSnapshotCache(), policy, calc, clock,
			query.GetLeaderboardHandlerConfig{Location: time.UTC, CacheTTL: time.Minute, DefaultLimit: 20, MaxLimit: 100, UseCache: true}, nil),
		GetUserProgress:      query.NewGetUserProgressHandler(loader, policy, cat.BadgeCatalog()),
		GetChallengeProgress: query.NewGetChallengeProgressHandler(challenges, loader, policy),
		ListUserChallenges:   query.NewListUserChallengesHandler(challenges, loader, policy, 3),
		Auth:                 auth,
		Health:               health,
	}
	cfg := DefaultConfig()
	return &testAPI{t: t, server: NewServer(cfg, deps), auth: auth, health: health}
}

func (a *testAPI) token(subject string, role shared.Role, scopes ...string) string {
	a.t.Helper()
	tok, err := a.auth.IssueToken(subject, role, scopes, nil, time.Hour)
	require.NoError(a.t, err)
	return "Bearer " + tok
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

// do sends a request. auth is either a "Bearer ..." value or "service".
func (a *testAPI) do(method, path, auth string, body any) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	switch {
	case auth == "service":
		req.Header.Set(headerServiceKey, testServiceKey)
		req.Header.Set(headerServiceName, "ingest")
	case auth != "":
		req.Header.Set("Authorization", auth)
	}

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func (a *testAPI) syncMember(userID string, scopes ...string) {
	a.t.Helper()
	rec, _ := a.do(http.MethodPut, "/internal/members/"+userID, "service", map[string]any{
		"timezone":  "UTC",
		"joined_at": "2025-09-01T08:00:00Z",
		"role":      "student",
		"scopes":    scopes,
	})
	require.Contains(a.t, []int{http.StatusCreated, http.StatusOK}, rec.Code, rec.Body.String())
}

func (a *testAPI) submit(auth, userID, key string, minutes int) (*httptest.ResponseRecorder, submitEventResponse) {
	a.t.Helper()
	rec, env := a.do(http.MethodPost, "/api/v1/events", auth, map[string]any{
		"user_id":         userID,
		"kind":            "minutes_read",
		"quantity":        minutes,
		"occurred_on":     "2026-02-10",
		"idempotency_key": key,
	})
	var resp submitEventResponse
	if env.Success {
		require.NoError(a.t, json.Unmarshal(env.Data, &resp))
	}
	return rec, resp
}

func (a *testAPI) progress(userID string) query.GetUserProgressResult {
	a.t.Helper()
	rec, env := a.do(http.MethodGet, "/api/v1/users/me/progress", a.token(userID, shared.RoleStudent), nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var res query.GetUserProgressResult
	require.NoError(a.t, json.Unmarshal(env.Data, &res))
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & AUTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	api.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec, _ = api.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Ready)
	assert.Equal(t, "connection refused", status.Checks["postgres"].Message)
}

func TestAuth_RejectsMissingAndForgedCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(http.MethodGet, "/api/v1/users/amir/progress", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unauthorized", env.Error.Code)
	assert.NotEmpty(t, env.RequestID)

	forged := NewAuthenticator(AuthConfig{JWTSecret: "other", JWTIssuer: "accounts"}, nil)
	tok, err := forged.IssueToken("amir", shared.RoleStudent, nil, nil, time.Hour)
	require.NoError(t, err)
	rec, _ = api.do(http.MethodGet, "/api/v1/users/amir/progress", "Bearer "+tok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// service role is never taken from a token
	rec, _ = api.do(http.MethodPut, "/internal/members/amir", api.token("amir", shared.RoleService), map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_InternalRoutesRequireService(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(http.MethodPut, "/internal/members/amir", api.token("root", shared.RoleAdmin), map[string]any{
		"joined_at": "2025-09-01T08:00:00Z",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := api.do(http.MethodPut, "/internal/members/amir", "service", map[string]any{
		"timezone":  "Asia/Almaty",
		"joined_at": "2025-09-01T08:00:00Z",
		"scopes":    []string{"class-7b"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp syncMemberResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, shared.RoleStudent, resp.Member.Role)
	assert.Equal(t, []shared.ScopeID{"class-7b"}, resp.Member.Scopes)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitEvent_IdempotentRetry(t *testing.T) {
	api := newTestAPI(t)
	api.syncMember("amir", "class-7b")

	rec, first := api.submit("service", "amir", "amir-2026-02-10-a", 30)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.False(t, first.Duplicate)
	assert.Positive(t, first.XPAwarded)
	require.NotNil(t, first.LevelState)

	rec, second := api.submit("service", "amir", "amir-2026-02-10-a", 30)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.EventID, second.Event.EventID)
	assert.Zero(t, second.XPAwarded)
}

func TestSubmitEvent_IdempotencyKeyFromHeader(t *testing.T) {
	api := newTestAPI(t)

	body, _ := json.Marshal(map[string]any{
		"user_id": "amir", "kind": "pages_read", "quantity": 12, "occurred_on": "2026-02-10",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set(headerServiceKey, testServiceKey)
	req.Header.Set("Idempotency-Key", "header-key-0001")
	rec := httptest.NewRecorder()
	api.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestSubmitEvent_Validation(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(http.MethodPost, "/api/v1/events", "service", map[string]any{
		"user_id":         "amir",
		"kind":            "minutes_read",
		"quantity":        10,
		"occurred_on":     "10.02.2026",
		"idempotency_key": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)
	assert.Len(t, env.Error.Details, 2)

	// domain validation: unknown kind and non-positive quantity
	rec, env = api.do(http.MethodPost, "/api/v1/events", "service", map[string]any{
		"user_id":         "amir",
		"kind":            "napping",
		"quantity":        0,
		"occurred_on":     "2026-02-10",
		"idempotency_key": "amir-key-0001",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation_error", env.Error.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/events", "service", map[string]any{"user_id": "amir", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitEvent_StudentCannotSubmitForOthers(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.submit(api.token("amir", shared.RoleStudent), "dana", "dana-key-00001", 20)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.submit(api.token("amir", shared.RoleStudent), "amir", "amir-key-00001", 20)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestReverseEvent(t *testing.T) {
	api := newTestAPI(t)
	_, submitted := api.submit("service", "amir", "amir-key-00002", 40)
	require.NotNil(t, submitted.Event)

	path := "/api/v1/admin/events/" + jsonInt(submitted.Event.EventID) + "/reverse"
	admin := api.token("root", shared.RoleAdmin)
	before := api.progress("amir")

	rec, _ := api.do(http.MethodPost, path, api.token("amir", shared.RoleStudent), map[string]any{"reason": "typo"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := api.do(http.MethodPost, path, admin, map[string]any{"reason": "duplicate log"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp reverseEventResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, -submitted.XPAwarded, resp.LedgerEntry.Amount)
	assert.True(t, resp.Event.Reversed)

	rec, env = api.do(http.MethodPost, path, admin, map[string]any{"reason": "again"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.AlreadyReversed)

	rec, _ = api.do(http.MethodPost, "/api/v1/admin/events/abc/reverse", admin, map[string]any{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/admin/events/99999/reverse", admin, map[string]any{"reason": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// progress reflects the reversal
	after := api.progress("amir")
	assert.Equal(t, before.XPTotal-submitted.XPAwarded, after.XPTotal)
	assert.Zero(t, after.Aggregates.Get(progress.StatMinutesRead))
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

func TestUserProgress_Scopes(t *testing.T) {
	api := newTestAPI(t)
	api.syncMember("amir", "class-7b")
	api.submit("service", "amir", "amir-key-00003", 25)

	rec, _ := api.do(http.MethodGet, "/api/v1/users/amir/progress", api.token("dana", shared.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/users/amir/progress", api.token("mrs-k", shared.RoleTeacher, "class-7a"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := api.do(http.MethodGet, "/api/v1/users/amir/progress", api.token("mr-b", shared.RoleTeacher, "class-7b"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prog query.GetUserProgressResult
	require.NoError(t, json.Unmarshal(env.Data, &prog))
	assert.Positive(t, prog.XPTotal)
	assert.Equal(t, prog.XPTotal, prog.Level.TotalXP)
}

func TestLeaderboard(t *testing.T) {
	api := newTestAPI(t)
	api.syncMember("amir", "class-7b")
	api.syncMember("dana", "class-7b")
	api.submit("service", "amir", "amir-key-00004", 10)
	api.submit("service", "dana", "dana-key-00004", 50)

	teacher := api.token("mr-b", shared.RoleTeacher, "class-7b")
	rec, env := api.do(http.MethodGet, "/api/v1/leaderboards/class-7b?window=week&metric=minutes", teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var board query.GetLeaderboardResult
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Entries, 2)
	assert.Equal(t, shared.UserID("dana"), board.Entries[0].UserID)
	assert.EqualValues(t, 1, board.Entries[0].Rank)
	assert.EqualValues(t, 2, board.Entries[1].Rank)

	rec, _ = api.do(http.MethodGet, "/api/v1/leaderboards/class-9z", teacher, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/leaderboards/class-7b?metric=happiness", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/leaderboards/class-7b?window=custom", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/leaderboards/class-7b?limit=lots", teacher, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGES & BADGES
// ══════════════════════════════════════════════════════════════════════════════

func TestChallenges(t *testing.T) {
	api := newTestAPI(t)
	api.syncMember("amir", "class-7b")
	teacher := api.token("mr-b", shared.RoleTeacher, "class-7b")

	body := map[string]any{
		"challenge_id": "feb-minutes",
		"name":         "Sixty minutes in February",
		"metric":       "minutes",
		"target":       60,
		"start_date":   "2026-02-01",
		"end_date":     "2026-03-01",
		"scope":        map[string]any{"scopes": []string{"class-7b"}},
		"xp_reward":    50,
	}
	rec, _ := api.do(http.MethodPost, "/api/v1/challenges", api.token("amir", shared.RoleStudent), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/challenges", teacher, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := api.do(http.MethodPost, "/api/v1/challenges", teacher, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "conflict", env.Error.Code)

	api.submit("service", "amir", "amir-key-00005", 45)
	api.submit("service", "amir", "amir-key-00006", 45)

	rec, env = api.do(http.MethodGet, "/api/v1/challenges/feb-minutes/progress/amir", teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p query.ChallengeProgressDTO
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.EqualValues(t, 60, p.Progress.Progress)
	assert.NotNil(t, p.CompletedAt)

	rec, env = api.do(http.MethodGet, "/api/v1/users/me/challenges", api.token("amir", shared.RoleStudent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []query.ChallengeProgressDTO
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.Len(t, rows, 1)

	rec, _ = api.do(http.MethodGet, "/api/v1/challenges/nope/progress/amir", teacher, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcknowledgeBadges(t *testing.T) {
	api := newTestAPI(t)
	student := api.token("amir", shared.RoleStudent)

	rec, env := api.do(http.MethodPost, "/api/v1/users/amir/badges/ack", student, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"acknowledged":0}`, string(env.Data))

	rec, _ = api.do(http.MethodPost, "/api/v1/users/dana/badges/ack", student, map[string]any{"badge_ids": []string{"first-book"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNoRoute(t *testing.T) {
	api := newTestAPI(t)
	rec, env := api.do(http.MethodGet, "/api/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
