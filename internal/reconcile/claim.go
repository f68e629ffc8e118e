package reconcile

import (
	"context"
	_ "embed"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer grants short-lived exclusive claims on an external payment so the
// webhook and verify paths do not race into the ledger together. The ledger's
// unique external payment index remains the authority; a claim only narrows
// the window.
type Claimer interface {
	// Claim returns ok=false if another holder has the key.
	Claim(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalClaimer is an in-process Claimer for single-instance deployments and tests.
type LocalClaimer struct {
	mu   sync.Mutex
	held map[string]localClaim
}

type localClaim struct {
	token   string
	expires time.Time
}

func NewLocalClaimer() *LocalClaimer {
	return &LocalClaimer{held: make(map[string]localClaim)}
}

func (c *LocalClaimer) Claim(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if cur, ok := c.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	c.held[key] = localClaim{token: token, expires: now.Add(ttl)}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// Only the holder frees the key; an expired claim may have been re-taken.
		if cur, ok := c.held[key]; ok && cur.token == token {
			delete(c.held, key)
		}
	}, true, nil
}

//go:embed lua/release.lua
var luaRelease string

// RedisClient is the subset of go-redis used by RedisClaimer.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisClaimer shares claims across instances with SET NX and an owner-checked release.
type RedisClaimer struct {
	rdb     RedisClient
	release *redis.Script
}

func NewRedisClaimer(rdb RedisClient) *RedisClaimer {
	return &RedisClaimer{rdb: rdb, release: redis.NewScript(luaRelease)}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		// Detached so a cancelled request still frees its claim.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.release.Run(ctx, c.rdb, []string{key}, token).Err()
	}, true, nil
}
