package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// InvalidationChannel is the Redis channel carrying cache invalidations. The
// payload is a principal id, or "*" for every principal.
const InvalidationChannel = "rbac:invalidate"

const invalidateAll = "*"

// loadTimeout bounds a store load shared by concurrent callers.
const loadTimeout = 10 * time.Second

// CacheMetrics counts permission cache lookups.
type CacheMetrics struct {
	lookups *prometheus.CounterVec
}

// NewCacheMetrics registers the cache collectors. A nil registerer uses the
// default Prometheus registerer; repeated registration reuses the existing collector.
func NewCacheMetrics(reg prometheus.Registerer) (*CacheMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platform_permission_cache_lookups_total",
		Help: "Permission cache lookups by result.",
	}, []string{"result"})
	if err := reg.Register(lookups); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("rbac: register cache metrics: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("rbac: cache metrics: unexpected collector type %T", already.ExistingCollector)
		}
		lookups = existing
	}
	return &CacheMetrics{lookups: lookups}, nil
}

func (m *CacheMetrics) hit() {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("hit").Inc()
}

func (m *CacheMetrics) miss() {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("miss").Inc()
}

type cacheEntry struct {
	role    Role
	perms   PermissionSet
	expires time.Time
}

// Cache holds effective permission sets per principal for a bounded TTL.
// Entries remember the role they were computed for, so a principal presenting
// a different role never sees a stale set.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	redis   redis.UniversalClient
	logger  *slog.Logger
	metrics *CacheMetrics

	mu         sync.RWMutex
	entries    map[uuid.UUID]cacheEntry
	generation uint64

	group singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRedis enables cross-instance invalidation over Redis pub/sub.
func WithRedis(client redis.UniversalClient) CacheOption {
	return func(c *Cache) { c.redis = client }
}

// WithCacheLogger sets the logger used for publish and subscribe failures.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithCacheMetrics attaches Prometheus counters.
func WithCacheMetrics(metrics *CacheMetrics) CacheOption {
	return func(c *Cache) { c.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache constructs a Cache. A non-positive ttl disables caching.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Get returns the cached set for the principal when it is fresh and was
// computed for the same role.
func (c *Cache) Get(id uuid.UUID, role Role) (PermissionSet, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || entry.role != role || !c.now().Before(entry.expires) {
		c.metrics.miss()
		return nil, false
	}
	c.metrics.hit()
	return entry.perms, true
}

// Set stores perms for the principal.
func (c *Cache) Set(id uuid.UUID, role Role, perms PermissionSet) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[id] = cacheEntry{role: role, perms: perms, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Load returns the cached set or calls load once for all concurrent callers
// asking for the same principal. Results loaded across an invalidation are
// returned to their callers but not cached.
func (c *Cache) Load(ctx context.Context, p Principal, load func(context.Context) (PermissionSet, error)) (PermissionSet, error) {
	if c == nil || c.ttl <= 0 {
		return load(ctx)
	}
	if perms, ok := c.Get(p.ID, p.Role); ok {
		return perms, nil
	}
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()
	key := fmt.Sprintf("%s|%s|%d", p.ID, p.Role, gen)
	resultCh := c.group.DoChan(key, func() (any, error) {
		// Shared by every waiter, so one caller going away must not cancel it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		perms, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.setIfCurrent(p.ID, p.Role, perms, gen)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

func (c *Cache) setIfCurrent(id uuid.UUID, role Role, perms PermissionSet, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	c.entries[id] = cacheEntry{role: role, perms: perms, expires: c.now().Add(c.ttl)}
}

// Invalidate drops the principal locally and broadcasts the drop to peers.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) {
	if c == nil {
		return
	}
	c.drop(id)
	c.publish(ctx, id.String())
}

// InvalidateAll drops every entry locally and broadcasts the drop to peers.
func (c *Cache) InvalidateAll(ctx context.Context) {
	if c == nil {
		return
	}
	c.dropAll()
	c.publish(ctx, invalidateAll)
}

func (c *Cache) drop(id uuid.UUID) {
	c.mu.Lock()
	c.generation++
	delete(c.entries, id)
	c.mu.Unlock()
}

func (c *Cache) dropAll() {
	c.mu.Lock()
	c.generation++
	c.entries = make(map[uuid.UUID]cacheEntry)
	c.mu.Unlock()
}

func (c *Cache) publish(ctx context.Context, payload string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		c.logger.Warn("rbac cache publish invalidation", slog.String("payload", payload), slog.Any("error", err))
	}
}

// Listen applies invalidations published by other instances until ctx is
// done. It returns nil when no Redis client is configured.
func (c *Cache) Listen(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	sub := c.redis.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("rbac: subscribe invalidations: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.apply(msg.Payload)
		}
	}
}

func (c *Cache) apply(payload string) {
	if payload == invalidateAll {
		c.dropAll()
		return
	}
	id, err := uuid.Parse(payload)
	if err != nil {
		c.logger.Warn("rbac cache invalid invalidation payload", slog.String("payload", payload))
		return
	}
	c.drop(id)
}

// Len reports the number of cached principals.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
