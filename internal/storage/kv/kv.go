// Package kv описывает абстракцию key-value хранилища с условной записью.
//
// Условная запись - единственный примитив синхронизации в сервисе:
// PutIfAbsent и Update с условиями гарантируют ровно одного победителя
// для одного ключа при конкурентных запросах.
package kv

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrNotFound - запись с таким ключом отсутствует.
	ErrNotFound = errors.New("kv: item not found")
	// ErrConditionFailed - условие условной записи не выполнено.
	ErrConditionFailed = errors.New("kv: condition failed")
)

// TTLField - зарезервированный атрибут с моментом истечения записи в unix-секундах.
const TTLField = "ttl"

// Store - операции хранилища, используемые сервисом.
type Store interface {
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, table, key string) (Item, error)
	// Put безусловно перезаписывает запись целиком.
	Put(ctx context.Context, table, key string, item Item) error
	// PutIfAbsent создает запись, только если ключ свободен, иначе ErrConditionFailed.
	PutIfAbsent(ctx context.Context, table, key string, item Item) error
	// Update атомарно применяет частичное обновление, если все условия выполнены,
	// и возвращает запись после изменения. При невыполненном условии - ErrConditionFailed.
	Update(ctx context.Context, table, key string, upd Update) (Item, error)
}

// Item - атрибуты записи. Допустимые значения: string, int64, bool.
type Item map[string]any

// String возвращает строковый атрибут или пустую строку.
func (i Item) String(field string) string {
	switch v := i[field].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Int возвращает числовой атрибут. Строки разбираются, отсутствие дает 0.
func (i Item) Int(field string) int64 {
	switch v := i[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Bool возвращает логический атрибут. Строки "1" и "true" считаются истиной.
func (i Item) Bool(field string) bool {
	switch v := i[field].(type) {
	case bool:
		return v
	case string:
		return v == "1" || v == "true"
	case int64:
		return v != 0
	default:
		return false
	}
}

// Has сообщает, присутствует ли атрибут.
func (i Item) Has(field string) bool {
	_, ok := i[field]
	return ok
}

// Update - частичное обновление записи.
//
// Set перезаписывает перечисленные поля, Add прибавляет дельту к числовым
// полям (отсутствующее поле считается нулем). Все Conditions должны
// выполняться на текущей версии записи, иначе запись не меняется.
type Update struct {
	Set        map[string]any
	Add        map[string]int64
	Remove     []string
	Conditions []Condition
}

// Op - оператор условия.
type Op string

const (
	OpExists    Op = "exists"
	OpNotExists Op = "not_exists"
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpLt        Op = "lt"
	OpGt        Op = "gt"
)

// Condition - условие на атрибут текущей записи.
//
// OpNe выполняется и для отсутствующего атрибута, OpLt и OpGt требуют,
// чтобы атрибут существовал.
type Condition struct {
	Field string
	Op    Op
	Value any
}

func Exists(field string) Condition      { return Condition{Field: field, Op: OpExists} }
func NotExists(field string) Condition   { return Condition{Field: field, Op: OpNotExists} }
func Eq(field string, v any) Condition   { return Condition{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Condition   { return Condition{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v int64) Condition { return Condition{Field: field, Op: OpLt, Value: v} }
func Gt(field string, v int64) Condition { return Condition{Field: field, Op: OpGt, Value: v} }
