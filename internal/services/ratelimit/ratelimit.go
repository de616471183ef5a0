// Package ratelimit реализует лимитер запросов с фиксированным окном
// поверх kv.Store.
//
// Для каждой пары (эндпоинт, субъект) хранится запись {count, windowStart, ttl}.
// Запись, окно которой закончилось, считается отсутствующей, даже если
// хранилище ее еще физически не удалило. Все изменения счетчика - условные
// записи, поэтому лимит соблюдается при конкурентных запросах без блокировок.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/metrics"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

// ErrInvalidRule - правило не может ограничивать запросы.
var ErrInvalidRule = errors.New("ratelimit: invalid rule")

// DefaultPrefix - пространство ключей лимитов по умолчанию.
const DefaultPrefix = "ratelimit"

const (
	fieldCount       = "count"
	fieldWindowStart = "windowStart"
	fieldEndpoint    = "endpoint"
	fieldSubject     = "subject"

	maxAttempts = 10
)

// Rule - лимит для эндпоинта.
type Rule struct {
	MaxRequests int
	Window      time.Duration
	// Prefix задает пространство ключей, пусто - DefaultPrefix.
	Prefix string
	// FailClosed запрещает запрос при недоступности хранилища.
	FailClosed bool
}

// RuleFromConfig строит Rule из секции конфига.
func RuleFromConfig(c config.RateLimitRule) Rule {
	return Rule{
		MaxRequests: c.MaxRequests,
		Window:      c.Window,
		Prefix:      c.Prefix,
		FailClosed:  c.FailClosed,
	}
}

// Validate проверяет, что правило может ограничивать запросы: лимит не
// меньше одного и окно не короче секунды.
func (r Rule) Validate() error {
	if r.MaxRequests < 1 {
		return fmt.Errorf("%w: max requests %d", ErrInvalidRule, r.MaxRequests)
	}
	if r.Window < time.Second {
		return fmt.Errorf("%w: window %s", ErrInvalidRule, r.Window)
	}
	return nil
}

func (r Rule) prefix() string {
	if r.Prefix == "" {
		return DefaultPrefix
	}
	return r.Prefix
}

func (r Rule) policy() string {
	if r.FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// Result - решение лимитера.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Degraded - решение принято политикой отказа, а не по данным хранилища.
	Degraded bool
}

// Key возвращает ключ записи лимита.
func Key(prefix, endpoint, subject string) string {
	return prefix + ":" + endpoint + ":" + subject
}

// Limiter - лимитер с фиксированным окном.
type Limiter struct {
	store kv.Store
	table string
	clock clock.Clock
	log   *slog.Logger
}

// New создает Limiter, хранящий записи в таблице table.
func New(store kv.Store, table string, clk clock.Clock, log *slog.Logger) *Limiter {
	return &Limiter{
		store: store,
		table: table,
		clock: clk,
		log:   log,
	}
}

// Check учитывает запрос субъекта к эндпоинту и возвращает решение.
//
// Ошибки хранилища не возвращаются: решение принимается политикой правила
// (по умолчанию запрос пропускается) и помечается Degraded.
func (l *Limiter) Check(ctx context.Context, subject, endpoint string, rule Rule) Result {
	const op = "ratelimit.Check"
	log := l.log.With(
		slog.String("op", op),
		slog.String("endpoint", endpoint),
		slog.String("subject", subject),
	)
	key := Key(rule.prefix(), endpoint, subject)

	conflicts := 0
	err := rule.Validate()
	for attempt := 0; err == nil && attempt < maxAttempts; attempt++ {
		var res Result
		res, err = l.attempt(ctx, key, subject, endpoint, rule)
		if err == nil {
			if res.Allowed {
				metrics.RateLimitDecisions.WithLabelValues(endpoint, "allowed").Inc()
			} else {
				metrics.RateLimitDecisions.WithLabelValues(endpoint, "denied").Inc()
				log.Info("rate limit exceeded", slog.Time("reset_at", res.ResetAt))
			}
			return res
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			break
		}
		err = nil
		conflicts++
	}
	if err == nil {
		err = fmt.Errorf("%w after %d attempts", kv.ErrConditionFailed, conflicts)
	}

	metrics.RateLimitStoreErrors.WithLabelValues(endpoint, rule.policy()).Inc()
	log.Warn("rate limit check failed, applying policy",
		slog.String("policy", rule.policy()), sl.Err(err))

	now := l.clock.Now()
	if rule.FailClosed {
		return Result{Allowed: false, Remaining: 0, ResetAt: now.Add(rule.Window), Degraded: true}
	}
	return Result{Allowed: true, Remaining: max(rule.MaxRequests, 0), ResetAt: now.Add(rule.Window), Degraded: true}
}

func (l *Limiter) attempt(ctx context.Context, key, subject, endpoint string, rule Rule) (Result, error) {
	now := l.clock.Now().Unix()
	window := int64(rule.Window / time.Second)
	limit := int64(rule.MaxRequests)

	item, err := l.store.Get(ctx, l.table, key)
	if errors.Is(err, kv.ErrNotFound) {
		fresh := kv.Item{
			fieldCount:       int64(1),
			fieldWindowStart: now,
			kv.TTLField:      now + 2*window,
			fieldEndpoint:    endpoint,
			fieldSubject:     subject,
		}
		if err := l.store.PutIfAbsent(ctx, l.table, key, fresh); err != nil {
			return Result{}, err
		}
		return opened(now, window, limit), nil
	}
	if err != nil {
		return Result{}, err
	}

	windowStart := item.Int(fieldWindowStart)
	if windowStart <= now-window {
		_, err := l.store.Update(ctx, l.table, key, kv.Update{
			Set: map[string]any{
				fieldCount:       int64(1),
				fieldWindowStart: now,
				kv.TTLField:      now + 2*window,
				fieldEndpoint:    endpoint,
				fieldSubject:     subject,
			},
			Conditions: []kv.Condition{kv.Eq(fieldWindowStart, windowStart)},
		})
		if err != nil {
			return Result{}, err
		}
		return opened(now, window, limit), nil
	}

	resetAt := time.Unix(windowStart+window, 0)
	if item.Int(fieldCount) >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	updated, err := l.store.Update(ctx, l.table, key, kv.Update{
		Add: map[string]int64{fieldCount: 1},
		Conditions: []kv.Condition{
			kv.Eq(fieldWindowStart, windowStart),
			kv.Lt(fieldCount, limit),
		},
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Allowed:   true,
		Remaining: int(limit - updated.Int(fieldCount)),
		ResetAt:   resetAt,
	}, nil
}

func opened(now, window, limit int64) Result {
	return Result{
		Allowed:   true,
		Remaining: int(limit - 1),
		ResetAt:   time.Unix(now+window, 0),
	}
}

// Refund возвращает один учтенный запрос текущего окна. Счетчик не уходит
// ниже нуля, отсутствие записи или истекшее окно - не ошибка.
// Для невалидного правила Check ничего не учитывает, поэтому и возвращать нечего.
func (l *Limiter) Refund(ctx context.Context, subject, endpoint string, rule Rule) error {
	const op = "ratelimit.Refund"
	if rule.Validate() != nil {
		return nil
	}
	now := l.clock.Now().Unix()
	window := int64(rule.Window / time.Second)

	_, err := l.store.Update(ctx, l.table, Key(rule.prefix(), endpoint, subject), kv.Update{
		Add: map[string]int64{fieldCount: -1},
		Conditions: []kv.Condition{
			kv.Gt(fieldCount, 0),
			kv.Gt(fieldWindowStart, now-window),
		},
	})
	if errors.Is(err, kv.ErrConditionFailed) {
		return nil
	}
	if err != nil {
		l.log.Error("failed to refund rate limit",
			slog.String("op", op),
			slog.String("endpoint", endpoint),
			slog.String("subject", subject),
			sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.RateLimitRefunds.WithLabelValues(endpoint).Inc()
	return nil
}
