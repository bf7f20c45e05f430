package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const (
	VerificationTTL = 7 * 24 * time.Hour
	DomainTTL       = 30 * 24 * time.Hour

	verifyPrefix = "leadgen:verify:v1:"
	domainPrefix = "leadgen:domain:v1:"
)

// Cache remembers verification verdicts and company domains. A miss is
// reported with ok=false and a nil error.
type Cache interface {
	GetVerification(ctx context.Context, email string) (v Verification, ok bool, err error)
	SetVerification(ctx context.Context, v Verification) error
	GetDomain(ctx context.Context, company string) (domain string, ok bool, err error)
	SetDomain(ctx context.Context, company, domain string) error
}

// VerificationKey returns the cache key for an address
func VerificationKey(email string) string {
	return verifyPrefix + hashKey(strings.ToLower(strings.TrimSpace(email)))
}

// DomainKey returns the cache key for a company name
func DomainKey(company string) string {
	return domainPrefix + hashKey(strings.ToLower(strings.TrimSpace(company)))
}

func hashKey(raw string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

// RedisCache stores entries in redis with per-kind TTLs
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to redis at addr
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the redis connection
func (c *RedisCache) Close() error { return c.rdb.Close() }

func (c *RedisCache) GetVerification(ctx context.Context, email string) (Verification, bool, error) {
	var v Verification
	raw, err := c.rdb.Get(ctx, VerificationKey(email)).Bytes()
	if err == redis.Nil {
		return v, false, nil
	}
	if err != nil {
		return v, false, eris.Wrap(err, "redis get verification")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, eris.Wrap(err, "decode cached verification")
	}
	return v, true, nil
}

func (c *RedisCache) SetVerification(ctx context.Context, v Verification) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "encode verification")
	}
	return c.rdb.Set(ctx, VerificationKey(v.Email), raw, VerificationTTL).Err()
}

func (c *RedisCache) GetDomain(ctx context.Context, company string) (string, bool, error) {
	domain, err := c.rdb.Get(ctx, DomainKey(company)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "redis get domain")
	}
	return domain, true, nil
}

func (c *RedisCache) SetDomain(ctx context.Context, company, domain string) error {
	return c.rdb.Set(ctx, DomainKey(company), domain, DomainTTL).Err()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache used when redis is not configured
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *MemoryCache) GetVerification(_ context.Context, email string) (Verification, bool, error) {
	var v Verification
	raw, ok := c.get(VerificationKey(email))
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, eris.Wrap(err, "decode cached verification")
	}
	return v, true, nil
}

func (c *MemoryCache) SetVerification(_ context.Context, v Verification) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "encode verification")
	}
	c.set(VerificationKey(v.Email), raw, VerificationTTL)
	return nil
}

func (c *MemoryCache) GetDomain(_ context.Context, company string) (string, bool, error) {
	raw, ok := c.get(DomainKey(company))
	return string(raw), ok, nil
}

func (c *MemoryCache) SetDomain(_ context.Context, company, domain string) error {
	c.set(DomainKey(company), []byte(domain), DomainTTL)
	return nil
}
