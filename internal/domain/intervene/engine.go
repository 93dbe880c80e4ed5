package intervene

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/beewell/momentum/internal/domain/model"
	"github.com/beewell/momentum/pkg/logger"
	"github.com/beewell/momentum/pkg/metrics"
)

// Limiter gates rule emissions per (user, intervention type). TryAcquire
// must be atomic: it checks the daily cap and minimum spacing and, only
// when both pass, records the trigger in the same operation. That makes
// emission-plus-bookkeeping a single logical transaction, so two
// concurrent evaluations of the same user cannot double-fire a rule.
type Limiter interface {
	TryAcquire(ctx context.Context, userID string, t model.InterventionType, now time.Time, limit RateLimit) (bool, error)
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRules replaces the stock rule set.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		if len(rules) > 0 {
			e.rules = rules
		}
	}
}

// WithCopyOverrides replaces notification copy per rule name.
func WithCopyOverrides(overrides map[string]Copy) Option {
	return func(e *Engine) {
		for rule, c := range overrides {
			e.copyOverrides[rule] = c
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine evaluates all rules independently each cycle; several may fire
// at once. Per-rule failures are isolated so one bad rule or malformed
// history never aborts the remaining rules.
type Engine struct {
	rules         []Rule
	limiter       Limiter
	copyOverrides map[string]Copy
	logger        logger.Logger
}

// NewEngine creates an Engine backed by the given rate limiter.
func NewEngine(limiter Limiter, opts ...Option) *Engine {
	e := &Engine{
		rules:         DefaultRules(DefaultRuleParams()),
		limiter:       limiter,
		copyOverrides: make(map[string]Copy),
		logger:        logger.Get().Named("intervene"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against the history (most recent first) and
// returns the interventions that fired and passed rate limiting. A
// rate-limited rule is normal control flow, not an error.
func (e *Engine) Evaluate(ctx context.Context, userID string, h History, now time.Time) []model.InterventionRecord {
	var records []model.InterventionRecord
	for i := range e.rules {
		rec, ok := e.evaluateRule(ctx, &e.rules[i], userID, h, now)
		if ok {
			records = append(records, rec)
		}
	}
	return records
}

func (e *Engine) evaluateRule(ctx context.Context, rule *Rule, userID string, h History, now time.Time) (rec model.InterventionRecord, ok bool) {
	// Isolate predicate panics: a single rule failure is logged and the
	// cycle continues with the remaining rules.
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordRuleError(rule.Name)
			e.logger.Error(ctx, "rule evaluation panicked",
				logger.String("rule", rule.Name),
				logger.String("userID", userID),
				logger.Any("panic", r),
			)
			ok = false
		}
	}()

	if !rule.Predicate(h) {
		return model.InterventionRecord{}, false
	}

	allowed, err := e.limiter.TryAcquire(ctx, userID, rule.Type, now, rule.Limit)
	if err != nil {
		metrics.RecordRuleError(rule.Name)
		e.logger.Error(ctx, "rate limit check failed",
			logger.String("rule", rule.Name),
			logger.String("userID", userID),
			logger.Error(err),
		)
		return model.InterventionRecord{}, false
	}
	if !allowed {
		metrics.RecordInterventionRateLimited(string(rule.Type))
		e.logger.Debug(ctx, "rule fired but was rate limited",
			logger.String("rule", rule.Name),
			logger.String("userID", userID),
		)
		return model.InterventionRecord{}, false
	}

	text := e.CopyFor(rule.Name)
	metrics.RecordInterventionEmitted(string(rule.Type))
	return model.InterventionRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       rule.Type,
		Priority:   rule.Priority,
		Reason:     rule.Name,
		Title:      text.Title,
		Message:    text.Message,
		ActionType: text.ActionType,
		CreatedAt:  now,
	}, true
}
