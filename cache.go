// Package taskforge tag-based cache engine.
// Wraps redisOps with a tagged serialization envelope so callers can
// cache arbitrary registered types and invalidate a whole family of
// cache entries by tag in one call.
package taskforge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelopeType mirrors the __type__ discriminator: primitive values
// round-trip through encoding/json directly, while schema-objects and
// orm-objects are reconstructed through a registered constructor so the
// cache never has to know Go types ahead of time.
type envelopeType string

const (
	envPrimitive   envelopeType = "primitive"
	envList        envelopeType = "list"
	envDict        envelopeType = "dict"
	envSchemaObj   envelopeType = "schema-object"
	envORMObj      envelopeType = "orm-object"
)

// envelope is the wire format written to Redis for every cached value.
type envelope struct {
	Type  envelopeType    `json:"__type__"`
	Model string          `json:"__model__,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Constructor rebuilds a registered model from its decoded column/field
// data. schema-object constructors receive the full decoded map and are
// expected to validate it; orm-object constructors receive only column
// attributes (relations are never serialized, so there is nothing to
// recurse into and no lazy-load risk).
type Constructor func(data map[string]interface{}) (interface{}, error)

// modelRegistry holds the two in-process constructor tables: one for
// schema-objects, one for orm-objects.
type modelRegistry struct {
	mu     sync.RWMutex
	schema map[string]Constructor
	orm    map[string]Constructor
}

func newModelRegistry() *modelRegistry {
	return &modelRegistry{
		schema: make(map[string]Constructor),
		orm:    make(map[string]Constructor),
	}
}

func (r *modelRegistry) RegisterSchemaObject(model string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schema[model] = ctor
}

func (r *modelRegistry) RegisterORMObject(model string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orm[model] = ctor
}

func (r *modelRegistry) construct(envType envelopeType, model string, data map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var table map[string]Constructor
	switch envType {
	case envSchemaObj:
		table = r.schema
	case envORMObj:
		table = r.orm
	default:
		return nil, NewInternalError(fmt.Sprintf("unexpected envelope type %q for model %q", envType, model), nil)
	}

	ctor, ok := table[model]
	if !ok {
		return nil, NewInternalError(fmt.Sprintf("no constructor registered for model %q", model), nil)
	}
	return ctor(data)
}

// CacheConfig configures the cache engine's key namespace and TTLs.
// TagTTL applies to tag membership sets, which must outlive the values
// they index: at least 24h, refreshed on every write.
type CacheConfig struct {
	Prefix     string
	DefaultTTL time.Duration
	TagTTL     time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultKeyPrefix
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 10 * time.Minute
	}
	if c.TagTTL < 24*time.Hour {
		c.TagTTL = 24 * time.Hour
	}
	return c
}

// Cache is a tag-indexed cache over Redis with typed serialization
// and batch invalidation.
type Cache struct {
	cfg      CacheConfig
	ops      *redisOps
	registry *modelRegistry
	scripts  *ScriptRegistry
	logger   *Logger
}

// NewCache builds a Cache over pool. scripts may be nil, in which case
// InvalidateByTag falls back to a non-atomic SMEMBERS+DEL sequence
// instead of the Lua-scripted atomic version.
func NewCache(pool *RedisPool, cfg CacheConfig, scripts *ScriptRegistry, logger *Logger) *Cache {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NewLogger("Cache")
	}
	return &Cache{
		cfg:      cfg,
		ops:      newRedisOps(pool),
		registry: newModelRegistry(),
		scripts:  scripts,
		logger:   logger,
	}
}

// Registry exposes the model registry so hosts can register their
// schema-objects and orm-objects at startup, before any Get call needs
// to reconstruct one.
func (c *Cache) Registry() *modelRegistry {
	return c.registry
}

func (c *Cache) valueKey(name string) string {
	return cacheKey(c.cfg.Prefix, name)
}

func (c *Cache) tagSetKey(tag string) string {
	return cacheTagKey(c.cfg.Prefix, tag)
}

// classify picks the envelope type and __model__ name for value. Types
// that implement CacheModel self-describe as schema-object or
// orm-object; everything else is a primitive/list/dict handled by
// plain JSON round-trip.
func classify(value interface{}) (envelopeType, string) {
	if m, ok := value.(CacheModel); ok {
		if m.IsORMObject() {
			return envORMObj, m.ModelName()
		}
		return envSchemaObj, m.ModelName()
	}
	switch value.(type) {
	case []interface{}:
		return envList, ""
	case map[string]interface{}:
		return envDict, ""
	default:
		return envPrimitive, ""
	}
}

// CacheModel is implemented by types that want to round-trip through
// the schema-object/orm-object registry instead of plain JSON. Fields
// returns only the attributes that should survive serialization —
// orm-object implementations must omit relations.
type CacheModel interface {
	ModelName() string
	IsORMObject() bool
	Fields() map[string]interface{}
}

// Get fetches cacheKey and reconstructs it into dest. dest must be a
// pointer. Returns found=false (not an error) on a cache miss.
func (c *Cache) Get(ctx context.Context, cacheKeyName string, dest interface{}) (bool, error) {
	var env envelope
	found, err := c.ops.getJSON(ctx, c.valueKey(cacheKeyName), &env)
	if err != nil || !found {
		return found, err
	}

	switch env.Type {
	case envSchemaObj, envORMObj:
		var fields map[string]interface{}
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			return false, NewInternalError("decode cached envelope fields", err)
		}
		obj, err := c.registry.construct(env.Type, env.Model, fields)
		if err != nil {
			return false, err
		}
		return true, assignInto(dest, obj)
	default:
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return false, NewInternalError("decode cached value", err)
		}
		return true, nil
	}
}

// assignInto stores obj into *dest via a pointer-to-interface
// assignment. Callers pass a **T or *interface{}; Get cannot know T at
// compile time since the registry is populated at runtime.
func assignInto(dest interface{}, obj interface{}) error {
	switch d := dest.(type) {
	case *interface{}:
		*d = obj
		return nil
	default:
		data, err := json.Marshal(obj)
		if err != nil {
			return NewInternalError("re-encode reconstructed cache object", err)
		}
		if err := json.Unmarshal(data, dest); err != nil {
			return NewInternalError("assign reconstructed cache object", err)
		}
		return nil
	}
}

// Set writes value under cacheKeyName with ttl (0 uses DefaultTTL).
func (c *Cache) Set(ctx context.Context, cacheKeyName string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	envType, model := classify(value)
	var data json.RawMessage
	var err error

	if m, ok := value.(CacheModel); ok {
		data, err = json.Marshal(m.Fields())
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return NewInternalError("encode value for cache envelope", err)
	}

	env := envelope{Type: envType, Model: model, Data: data}
	return c.ops.setJSON(ctx, c.valueKey(cacheKeyName), env, int(ttl.Seconds()))
}

// Tag associates cacheKeyName with tag and refreshes the tag-set TTL.
// Tagging and the value write are independent calls, not atomic — a
// crash between Set and Tag leaves an untagged value, which simply
// never gets swept by InvalidateByTag.
func (c *Cache) Tag(ctx context.Context, cacheKeyName, tag string) error {
	if err := c.ops.sadd(ctx, c.tagSetKey(tag), c.valueKey(cacheKeyName)); err != nil {
		return err
	}
	return c.ops.pool.WithConn(ctx, func(cl *redis.Client) error {
		return cl.Expire(ctx, c.tagSetKey(tag), c.cfg.TagTTL).Err()
	})
}

// InvalidateByTag deletes every value key registered under tag, then
// the tag-set itself, returning the number of members the tag-set
// listed. Orphan membership (a key already gone) is tolerated and still
// counted: DEL on a missing key is a no-op, not an error.
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	if c.scripts != nil && c.scripts.Has(scriptInvalidateTag) {
		res, err := c.scripts.Run(ctx, scriptInvalidateTag, map[string]string{"tagSet": c.tagSetKey(tag)})
		if err != nil {
			return 0, NewTransientError("invalidate by tag script failed", err)
		}
		n, _ := toInt(res)
		return n, nil
	}

	members, err := c.ops.smembers(ctx, c.tagSetKey(tag))
	if err != nil {
		return 0, err
	}
	if len(members) > 0 {
		if err := c.ops.del(ctx, members...); err != nil {
			return 0, err
		}
	}
	if err := c.ops.del(ctx, c.tagSetKey(tag)); err != nil {
		return 0, err
	}
	return len(members), nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
