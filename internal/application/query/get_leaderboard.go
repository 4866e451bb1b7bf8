// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/reading-engine/internal/application/access"
	"github.com/alem-hub/reading-engine/internal/domain/activity"
	"github.com/alem-hub/reading-engine/internal/domain/leaderboard"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/progress"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

var tracer = otel.Tracer("github.com/alem-hub/reading-engine/internal/application/query")

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Строит лидерборд области по окну и метрике. Порядок строгий: ранги не
// повторяются. Результат может браться из кэша (допустима небольшая задержка).
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	Principal access.Principal

	// Scope - класс, школа или "all".
	Scope shared.ScopeID

	// Window - week, month, all_time или custom (нужны From и To).
	Window string
	From   *timeutil.Date
	To     *timeutil.Date

	// Metric - xp, books, minutes, pages, reviews, streak_days, distinct_genres.
	Metric progress.Metric

	// Limit - количество записей (по умолчанию 20).
	Limit int

	// SkipCache - пересчитать, не заглядывая в кэш.
	SkipCache bool
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Scope   shared.ScopeID      `json:"scope"`
	Metric  progress.Metric     `json:"metric"`
	Window  string              `json:"window"`
	From    timeutil.Date       `json:"from"`
	To      timeutil.Date       `json:"to"`
	Entries []leaderboard.Entry `json:"entries"`

	// Me - позиция вызывающего, если он есть в области.
	Me *leaderboard.Entry `json:"me,omitempty"`

	// TotalCount - количество участников области.
	TotalCount int `json:"total_count"`

	// ComputedAt - время расчёта снапшота.
	ComputedAt time.Time `json:"computed_at"`

	// FromCache - результат взят из кэша.
	FromCache bool `json:"from_cache"`
}

// GetLeaderboardHandlerConfig - настройки обработчика.
type GetLeaderboardHandlerConfig struct {
	// Location - часовой пояс, в котором считаются окна week/month.
	Location *time.Location
	// CacheTTL - время жизни снапшота в кэше.
	CacheTTL time.Duration
	// DefaultLimit и MaxLimit ограничивают размер ответа.
	DefaultLimit int
	MaxLimit     int
	// UseCache включает чтение и запись снапшотов.
	UseCache bool
}

// GetLeaderboardHandler обрабатывает запрос лидерборда.
type GetLeaderboardHandler struct {
	members member.Directory
	events  activity.Store
	ledger  activity.Ledger
	cache   leaderboard.SnapshotCache
	policy  *access.Policy
	calc    *progress.Calculator
	clock   shared.Clock
	config  GetLeaderboardHandlerConfig
	log     *logger.Logger
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(
	members member.Directory,
	events activity.Store,
	ledger activity.Ledger,
	cache leaderboard.SnapshotCache,
	policy *access.Policy,
	calc *progress.Calculator,
	clock shared.Clock,
	config GetLeaderboardHandlerConfig,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 20
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 100
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		members: members,
		events:  events,
		ledger:  ledger,
		cache:   cache,
		policy:  policy,
		calc:    calc,
		clock:   clock,
		config:  config,
		log:     log.With(logger.Component("get_leaderboard")),
	}
}

// Handle выполняет запрос.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	ctx, span := tracer.Start(ctx, "query.get_leaderboard")
	defer span.End()

	lq, err := h.resolve(q)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("scope", string(lq.Scope)),
		attribute.String("metric", string(lq.Metric)),
		attribute.String("window", string(lq.Window.Kind)),
	)

	if err := h.policy.CanViewScope(ctx, q.Principal, lq.Scope); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = h.config.DefaultLimit
	}
	if limit > h.config.MaxLimit {
		limit = h.config.MaxLimit
	}

	snap, fromCache := h.cached(ctx, lq, q.SkipCache)
	if snap == nil {
		snap, err = h.Compute(ctx, lq)
		if err != nil {
			return nil, err
		}
		h.store(ctx, snap)
	}

	ranking := snap.Ranking()
	result := &GetLeaderboardResult{
		Scope:      lq.Scope,
		Metric:     lq.Metric,
		Window:     string(lq.Window.Kind),
		From:       lq.Window.Range.From,
		To:         lq.Window.Range.To,
		Entries:    ranking.Top(limit),
		TotalCount: ranking.Count(),
		ComputedAt: snap.ComputedAt,
		FromCache:  fromCache,
	}
	if me, ok := ranking.GetByID(shared.UserID(q.Principal.Subject)); ok {
		result.Me = &me
	}
	return result, nil
}

// resolve превращает параметры запроса в доменный Query.
func (h *GetLeaderboardHandler) resolve(q GetLeaderboardQuery) (leaderboard.Query, error) {
	scope, err := shared.NewScopeID(string(q.Scope))
	if err != nil {
		return leaderboard.Query{}, err
	}
	metric := q.Metric
	if metric == "" {
		metric = progress.MetricXP
	}
	if !metric.IsValid() {
		return leaderboard.Query{}, shared.ErrInvalidMetric
	}
	today := timeutil.Today(h.clock.Now(), h.config.Location)
	w, err := leaderboard.ResolveWindow(q.Window, today, q.From, q.To)
	if err != nil {
		return leaderboard.Query{}, err
	}
	lq := leaderboard.Query{Scope: scope, Window: w, Metric: metric}
	return lq, lq.Validate()
}

// Compute строит снапшот напрямую из журнала, минуя кэш.
// Используется и запросом, и фоновой задачей прогрева.
func (h *GetLeaderboardHandler) Compute(ctx context.Context, lq leaderboard.Query) (*leaderboard.Snapshot, error) {
	start := time.Now()

	members, err := h.members.ListScope(ctx, lq.Scope)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: list scope: %w", err)
	}
	ids := make([]shared.UserID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}

	var (
		events  map[shared.UserID][]*activity.Event
		entries map[shared.UserID][]activity.LedgerEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Все даты: тай-брейк использует книги за всё время.
		var err error
		events, err = h.events.ListByUsers(gctx, ids, timeutil.DateRange{})
		return err
	})
	if lq.Metric == progress.MetricXP {
		g.Go(func() error {
			var err error
			entries, err = h.ledger.EntriesForUsers(gctx, ids)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_leaderboard: load: %w", err)
	}

	candidates := make([]leaderboard.Candidate, 0, len(members))
	for _, m := range members {
		ev := events[m.UserID]
		candidates = append(candidates, leaderboard.Candidate{
			UserID:      m.UserID,
			MetricValue: h.calc.Measure(lq.Metric, ev, entries[m.UserID], lq.Window.Range),
			TotalBooks:  progress.TotalBooks(ev),
			JoinedAt:    m.JoinedAt,
		})
	}

	snap := leaderboard.NewSnapshot(lq, leaderboard.Build(candidates), h.clock.Now())
	h.log.Debug("leaderboard computed",
		logger.String("key", snap.Key),
		logger.Int("entries", snap.Count()),
		logger.Latency(time.Since(start)))
	return snap, nil
}

// Refresh пересчитывает снапшот и кладёт его в кэш.
func (h *GetLeaderboardHandler) Refresh(ctx context.Context, scope shared.ScopeID, window string, metric progress.Metric) (*leaderboard.Snapshot, error) {
	lq, err := h.resolve(GetLeaderboardQuery{Scope: scope, Window: window, Metric: metric})
	if err != nil {
		return nil, err
	}
	snap, err := h.Compute(ctx, lq)
	if err != nil {
		return nil, err
	}
	h.store(ctx, snap)
	return snap, nil
}

func (h *GetLeaderboardHandler) cached(ctx context.Context, lq leaderboard.Query, skip bool) (*leaderboard.Snapshot, bool) {
	if h.cache == nil || !h.config.UseCache || skip {
		return nil, false
	}
	snap, err := h.cache.Get(ctx, lq.CacheKey())
	if err != nil {
		h.log.Warn("leaderboard cache read failed", logger.Err(err))
		return nil, false
	}
	if snap == nil {
		return nil, false
	}
	return snap, true
}

func (h *GetLeaderboardHandler) store(ctx context.Context, snap *leaderboard.Snapshot) {
	if h.cache == nil || !h.config.UseCache {
		return
	}
	if err := h.cache.Put(ctx, snap, h.config.CacheTTL); err != nil {
		h.log.Warn("leaderboard cache write failed", logger.Err(err))
	}
}
