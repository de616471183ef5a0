// Package idempotency содержит примитивы "ровно один раз" поверх условных
// записей kv.Store.
//
// Gate - маркер-запись на ключ: первый Acquire создает ее, все последующие
// и конкурентные получают отказ. Flag - одноразовый флаг внутри уже
// существующей записи, выставляемый одним обновлением вместе со счетчиком.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

// FieldProcessedAt - момент создания маркера в unix-секундах.
const FieldProcessedAt = "processedAt"

// Gate - маркер идемпотентности для ключей типа K.
type Gate[K any] struct {
	store     kv.Store
	table     string
	keyFn     func(K) string
	retention time.Duration
	clock     clock.Clock
}

// NewGate создает Gate. Маркеры хранятся retention (ноль - бессрочно).
func NewGate[K any](store kv.Store, table string, keyFn func(K) string, retention time.Duration, clk clock.Clock) *Gate[K] {
	return &Gate[K]{
		store:     store,
		table:     table,
		keyFn:     keyFn,
		retention: retention,
		clock:     clk,
	}
}

// Lookup возвращает маркер, если он уже создан.
func (g *Gate[K]) Lookup(ctx context.Context, k K) (kv.Item, bool, error) {
	const op = "idempotency.Gate.Lookup"
	item, err := g.store.Get(ctx, g.table, g.keyFn(k))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return item, true, nil
}

// Acquire пытается создать маркер с атрибутами attrs. Возвращает true
// только тому вызову, чья запись создала маркер.
func (g *Gate[K]) Acquire(ctx context.Context, k K, attrs kv.Item) (bool, error) {
	const op = "idempotency.Gate.Acquire"
	now := g.clock.Now()
	item := make(kv.Item, len(attrs)+2)
	for f, v := range attrs {
		item[f] = v
	}
	item[FieldProcessedAt] = now.Unix()
	if g.retention > 0 {
		item[kv.TTLField] = now.Add(g.retention).Unix()
	}

	err := g.store.PutIfAbsent(ctx, g.table, g.keyFn(k), item)
	if errors.Is(err, kv.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Flag - одноразовый логический флаг записи со связанным счетчиком.
type Flag[K any] struct {
	store      kv.Store
	table      string
	keyFn      func(K) string
	field      string
	counter    string
	conditions []kv.Condition
}

// NewFlag создает Flag для поля field. counter увеличивается в том же
// обновлении; conditions добавляются к условию "флаг еще не выставлен".
func NewFlag[K any](store kv.Store, table string, keyFn func(K) string, field, counter string, conditions ...kv.Condition) *Flag[K] {
	return &Flag[K]{
		store:      store,
		table:      table,
		keyFn:      keyFn,
		field:      field,
		counter:    counter,
		conditions: conditions,
	}
}

// Claim выставляет флаг и увеличивает счетчик одной условной записью.
// Возвращает запись после изменения и true, если флаг выставил этот вызов;
// (nil, false, nil), если флаг уже был выставлен или условия не выполнены.
func (f *Flag[K]) Claim(ctx context.Context, k K, set map[string]any) (kv.Item, bool, error) {
	const op = "idempotency.Flag.Claim"
	upd := kv.Update{
		Set:        map[string]any{f.field: true},
		Conditions: append([]kv.Condition{kv.Ne(f.field, true)}, f.conditions...),
	}
	for field, v := range set {
		upd.Set[field] = v
	}
	if f.counter != "" {
		upd.Add = map[string]int64{f.counter: 1}
	}

	item, err := f.store.Update(ctx, f.table, f.keyFn(k), upd)
	if errors.Is(err, kv.ErrConditionFailed) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return item, true, nil
}
