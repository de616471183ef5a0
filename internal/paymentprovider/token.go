package paymentprovider

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
)

// DefaultTokenSkew - запас до истечения токена, после которого он считается
// непригодным.
const DefaultTokenSkew = 60 * time.Second

// tokenFetchTimeout ограничивает общую выборку токена, не зависящую от
// отмены отдельных вызывающих.
const tokenFetchTimeout = 15 * time.Second

// FetchFunc получает новый токен доступа и его время жизни.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache хранит токен доступа шлюза в памяти процесса.
//
// Конкурентные вызовы при пустом или протухшем кеше выполняют одну выборку.
type TokenCache struct {
	fetch FetchFunc
	clock clock.Clock
	skew  time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenCache создает кеш токена.
func NewTokenCache(fetch FetchFunc, clk clock.Clock, skew time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, clock: clk, skew: skew}
}

// Token возвращает закешированный токен, если до его истечения больше skew,
// иначе получает новый. Отмена ctx прерывает ожидание только этого вызова,
// выборка продолжается для остальных.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()
		tok, ttl, err := c.fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		if tok == "" {
			return "", errors.New("empty access token")
		}
		c.mu.Lock()
		c.token = tok
		c.expiresAt = c.clock.Now().Add(ttl)
		c.mu.Unlock()
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate сбрасывает кеш, например после ответа 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !c.clock.Now().Add(c.skew).Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}
