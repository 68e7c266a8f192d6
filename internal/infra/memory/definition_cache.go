package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
)

// DefinitionCache caches test definitions with TTL so concurrent students
// of one test do not hit the catalog each.
type DefinitionCache struct {
	source app.Catalog
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[int64]cachedDefinition
}

type cachedDefinition struct {
	def       domain.TestDefinition
	expiresAt time.Time
}

func NewDefinitionCache(source app.Catalog, ttl time.Duration) *DefinitionCache {
	return &DefinitionCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[int64]cachedDefinition),
	}
}

// FetchTestDefinition returns a private copy of the cached definition.
func (c *DefinitionCache) FetchTestDefinition(ctx context.Context, testID int64) (domain.TestDefinition, error) {
	if def, ok := c.lookup(testID); ok {
		return def.Clone(), nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(testID, 10), func() (interface{}, error) {
		if def, ok := c.lookup(testID); ok {
			return def, nil
		}

		def, err := c.source.FetchTestDefinition(ctx, testID)
		if err != nil {
			return domain.TestDefinition{}, err
		}

		if c.ttl > 0 {
			c.mu.Lock()
			c.cache[testID] = cachedDefinition{
				def:       def.Clone(),
				expiresAt: c.clock().Add(c.ttlWithJitter()),
			}
			c.mu.Unlock()
		}
		return def, nil
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition).Clone(), nil
}

// Invalidate drops a cached definition.
func (c *DefinitionCache) Invalidate(testID int64) {
	c.mu.Lock()
	delete(c.cache, testID)
	c.mu.Unlock()
}

func (c *DefinitionCache) lookup(testID int64) (domain.TestDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[testID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.TestDefinition{}, false
	}
	return entry.def, true
}

func (c *DefinitionCache) ttlWithJitter() time.Duration {
	// up to 10% jitter spreads expirations of definitions loaded together
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}

// StaticCatalog serves definitions from a map (useful for tests/demos).
type StaticCatalog struct {
	defs map[int64]domain.TestDefinition
}

func NewStaticCatalog(defs map[int64]domain.TestDefinition) *StaticCatalog {
	return &StaticCatalog{defs: defs}
}

func (s *StaticCatalog) FetchTestDefinition(_ context.Context, testID int64) (domain.TestDefinition, error) {
	if def, ok := s.defs[testID]; ok {
		return def, nil
	}
	return domain.TestDefinition{}, &domain.APIError{Status: 404, Message: "Test not found"}
}
