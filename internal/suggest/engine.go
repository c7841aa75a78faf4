// Package suggest turns a till snapshot and a target amount into ranked
// combinations a cashier can hand over, caching the result per till version.
package suggest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"lacikas/backend/internal/cache"
	"lacikas/backend/internal/denom"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/money"
)

const defaultCacheTTL = 20 * time.Second

type Engine struct {
	cache      cache.SuggestionCache
	cacheTTL   time.Duration
	nodeBudget int
	formatter  money.Formatter
	logger     *zap.Logger
}

func NewEngine(cacheStore cache.SuggestionCache, cacheTTL time.Duration, nodeBudget int, formatter money.Formatter, logger *zap.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopSuggestionCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if nodeBudget == 0 {
		nodeBudget = denom.DefaultNodeBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cache:      cacheStore,
		cacheTTL:   cacheTTL,
		nodeBudget: nodeBudget,
		formatter:  formatter,
		logger:     logger,
	}
}

func (e *Engine) Formatter() money.Formatter { return e.formatter }

func (e *Engine) NodeBudget() int { return e.nodeBudget }

// Suggest lists up to denom.MaxSuggestions ways to pay target exactly out of
// till. An unpayable target is a normal response with Feasible false.
func (e *Engine) Suggest(ctx context.Context, till domain.Till, target int64) (domain.SuggestionResponse, error) {
	startedAt := time.Now()

	if target < 0 {
		return domain.SuggestionResponse{}, fmt.Errorf("%w: %d", denom.ErrNegativeTarget, target)
	}

	cacheKey := buildCacheKey(till.ID, till.Version, target)
	cached, ok, err := e.cache.Get(ctx, cacheKey)
	if err != nil {
		e.logger.Warn("suggestion cache read failed", zap.String("op", "suggest.Suggest"), zap.Error(err))
	}
	if err == nil && ok {
		cached.Cached = true
		cached.LatencyMS = time.Since(startedAt).Milliseconds()
		return *cached, nil
	}

	inv, err := denom.NewInventory(till.Bills)
	if err != nil {
		return domain.SuggestionResponse{}, fmt.Errorf("till %s: %w", till.ID, err)
	}

	result, err := denom.Search(inv, target, denom.SearchOptions{NodeBudget: e.nodeBudget})
	if err != nil {
		return domain.SuggestionResponse{}, err
	}

	resp := domain.SuggestionResponse{
		TillID:        till.ID,
		TillVersion:   till.Version,
		TargetAmount:  target,
		TargetDisplay: e.formatter.Format(target),
		Reachable:     denom.Reachable(inv, target),
		Feasible:      len(result.Combinations) > 0,
		Greedy:        result.Greedy,
		Truncated:     result.Truncated,
		Suggestions:   make([]domain.Suggestion, 0, len(result.Combinations)),
	}
	for _, combo := range result.Combinations {
		resp.Suggestions = append(resp.Suggestions, e.toSuggestion(combo))
	}
	if result.Truncated {
		e.logger.Info("suggestion search hit node budget",
			zap.String("op", "suggest.Suggest"),
			zap.String("till_id", till.ID),
			zap.Int64("target", target),
			zap.Int("nodes", result.Nodes),
			zap.Int("found", len(result.Combinations)),
		)
	}

	resp.LatencyMS = time.Since(startedAt).Milliseconds()
	if err := e.cache.Set(ctx, cacheKey, &resp, e.cacheTTL); err != nil {
		e.logger.Warn("suggestion cache write failed", zap.String("op", "suggest.Suggest"), zap.Error(err))
	}
	return resp, nil
}

func (e *Engine) toSuggestion(combo denom.Combination) domain.Suggestion {
	parts := make([]string, 0, len(combo))
	for _, h := range combo.Pairs() {
		parts = append(parts, fmt.Sprintf("%d x %s", h.Count, e.formatter.Format(h.Denomination)))
	}
	return domain.Suggestion{
		Bills:     domain.Bills(combo.Clone()),
		BillCount: combo.Units(),
		Total:     combo.Total(),
		Display:   strings.Join(parts, " + "),
	}
}

func buildCacheKey(tillID string, version int64, target int64) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", tillID, version, target)))
	return "lacikas:suggestion:" + hex.EncodeToString(hash[:])
}
