// Package redisstore реализует kv.Store поверх Redis.
//
// Каждая запись хранится в hash с ключом "<table>:<key>". Условные операции
// выполняются Lua-скриптами, поэтому проверка условия и запись атомарны.
// Атрибут ttl (unix-секунды) дополнительно выставляется как EXPIREAT.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

var putIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local ttl = redis.call('HGET', KEYS[1], 'ttl')
if ttl then
  redis.call('EXPIREAT', KEYS[1], ttl)
end
return 1
`)

var updateScript = redis.NewScript(`
local key = KEYS[1]
local i = 1
local n = tonumber(ARGV[i]); i = i + 1
for c = 1, n do
  local field, op, val = ARGV[i], ARGV[i + 1], ARGV[i + 2]
  i = i + 3
  local cur = redis.call('HGET', key, field)
  local ok
  if op == 'exists' then
    ok = cur ~= false
  elseif op == 'not_exists' then
    ok = cur == false
  elseif op == 'eq' then
    ok = cur == val
  elseif op == 'ne' then
    ok = cur ~= val
  elseif op == 'lt' then
    ok = cur ~= false and tonumber(cur) < tonumber(val)
  elseif op == 'gt' then
    ok = cur ~= false and tonumber(cur) > tonumber(val)
  else
    return redis.error_reply('unknown condition op ' .. op)
  end
  if not ok then
    return 0
  end
end
n = tonumber(ARGV[i]); i = i + 1
for s = 1, n do
  redis.call('HSET', key, ARGV[i], ARGV[i + 1])
  i = i + 2
end
n = tonumber(ARGV[i]); i = i + 1
for a = 1, n do
  redis.call('HINCRBY', key, ARGV[i], ARGV[i + 1])
  i = i + 2
end
n = tonumber(ARGV[i]); i = i + 1
for r = 1, n do
  redis.call('HDEL', key, ARGV[i])
  i = i + 1
end
local ttl = redis.call('HGET', key, 'ttl')
if ttl then
  redis.call('EXPIREAT', key, ttl)
end
return redis.call('HGETALL', key)
`)

// Store - kv.Store на Redis.
type Store struct {
	Db *redis.Client
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Store, error) {
	const op = "redisstore.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Store{Db: db}, nil
}

// New оборачивает уже созданный клиент.
func New(db *redis.Client) *Store {
	return &Store{Db: db}
}

// Ping проверяет соединение с Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (s *Store) Close() error {
	return s.Db.Close()
}

func hashKey(table, key string) string {
	return table + ":" + key
}

// Get возвращает запись или kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, table, key string) (kv.Item, error) {
	const op = "redisstore.Get"
	vals, err := s.Db.HGetAll(ctx, hashKey(table, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(vals) == 0 {
		return nil, kv.ErrNotFound
	}
	item := make(kv.Item, len(vals))
	for f, v := range vals {
		item[f] = v
	}
	return item, nil
}

// Put перезаписывает запись целиком.
func (s *Store) Put(ctx context.Context, table, key string, item kv.Item) error {
	const op = "redisstore.Put"
	args, err := flatten(item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	hk := hashKey(table, key)
	_, err = s.Db.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, hk)
		p.HSet(ctx, hk, args...)
		if item.Has(kv.TTLField) {
			p.ExpireAt(ctx, hk, time.Unix(item.Int(kv.TTLField), 0))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PutIfAbsent создает запись, если ключ свободен.
func (s *Store) PutIfAbsent(ctx context.Context, table, key string, item kv.Item) error {
	const op = "redisstore.PutIfAbsent"
	args, err := flatten(item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := putIfAbsentScript.Run(ctx, s.Db, []string{hashKey(table, key)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res == 0 {
		return kv.ErrConditionFailed
	}
	return nil
}

// Update применяет условное частичное обновление.
func (s *Store) Update(ctx context.Context, table, key string, upd kv.Update) (kv.Item, error) {
	const op = "redisstore.Update"
	args, err := updateArgs(upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := updateScript.Run(ctx, s.Db, []string{hashKey(table, key)}, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch v := res.(type) {
	case int64:
		return nil, kv.ErrConditionFailed
	case []any:
		return pairsToItem(v)
	default:
		return nil, fmt.Errorf("%s: unexpected script result %T", op, res)
	}
}

func updateArgs(upd kv.Update) ([]any, error) {
	args := make([]any, 0, 4+3*len(upd.Conditions)+2*len(upd.Set)+2*len(upd.Add)+len(upd.Remove))

	args = append(args, len(upd.Conditions))
	for _, c := range upd.Conditions {
		val := ""
		if c.Value != nil {
			v, err := encode(c.Value)
			if err != nil {
				return nil, fmt.Errorf("condition on %s: %w", c.Field, err)
			}
			val = v
		}
		args = append(args, c.Field, string(c.Op), val)
	}

	args = append(args, len(upd.Set))
	for _, f := range sortedKeys(upd.Set) {
		v, err := encode(upd.Set[f])
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", f, err)
		}
		args = append(args, f, v)
	}

	args = append(args, len(upd.Add))
	for _, f := range sortedKeys(upd.Add) {
		args = append(args, f, strconv.FormatInt(upd.Add[f], 10))
	}

	args = append(args, len(upd.Remove))
	for _, f := range upd.Remove {
		args = append(args, f)
	}
	return args, nil
}

func flatten(item kv.Item) ([]any, error) {
	if len(item) == 0 {
		return nil, errors.New("empty item")
	}
	args := make([]any, 0, 2*len(item))
	for _, f := range sortedKeys(item) {
		v, err := encode(item[f])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		args = append(args, f, v)
	}
	return args, nil
}

func pairsToItem(vals []any) (kv.Item, error) {
	if len(vals)%2 != 0 {
		return nil, errors.New("odd number of hash values")
	}
	item := make(kv.Item, len(vals)/2)
	for i := 0; i < len(vals); i += 2 {
		f, ok := vals[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected field type %T", vals[i])
		}
		v, ok := vals[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value type %T", vals[i+1])
		}
		item[f] = v
	}
	return item, nil
}

func encode(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
