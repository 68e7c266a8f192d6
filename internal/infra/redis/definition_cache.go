package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
)

// DefinitionCache caches test definitions in Redis and falls back to the
// source catalog on a miss. Definitions are stored as JSON:
// SET runner:test:{testID} {definition} EX ttl
type DefinitionCache struct {
	client *redis.Client
	source app.Catalog
	ttl    time.Duration
	sf     singleflight.Group
	log    zerolog.Logger
}

func NewDefinitionCache(client *redis.Client, source app.Catalog, ttl time.Duration, log zerolog.Logger) *DefinitionCache {
	return &DefinitionCache{
		client: client,
		source: source,
		ttl:    ttl,
		log:    log.With().Str("component", "definition_cache").Logger(),
	}
}

func (c *DefinitionCache) FetchTestDefinition(ctx context.Context, testID int64) (domain.TestDefinition, error) {
	key := c.key(testID)
	if def, ok := c.lookup(ctx, key); ok {
		return def, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if def, ok := c.lookup(ctx, key); ok {
			return def, nil
		}

		def, err := c.source.FetchTestDefinition(ctx, testID)
		if err != nil {
			return domain.TestDefinition{}, err
		}

		raw, err := json.Marshal(def)
		if err != nil {
			return domain.TestDefinition{}, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn().Err(err).Int64("test_id", testID).Msg("cache write failed")
		}
		return def, nil
	})
	if err != nil {
		return domain.TestDefinition{}, err
	}
	return result.(domain.TestDefinition).Clone(), nil
}

// Invalidate drops a cached definition.
func (c *DefinitionCache) Invalidate(ctx context.Context, testID int64) error {
	return c.client.Del(ctx, c.key(testID)).Err()
}

func (c *DefinitionCache) lookup(ctx context.Context, key string) (domain.TestDefinition, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return domain.TestDefinition{}, false
	}
	var def domain.TestDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		_ = c.client.Del(ctx, key).Err()
		return domain.TestDefinition{}, false
	}
	return def, true
}

func (c *DefinitionCache) key(testID int64) string {
	return "runner:test:" + strconv.FormatInt(testID, 10)
}

func (c *DefinitionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
