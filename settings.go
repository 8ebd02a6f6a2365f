// Package taskforge dynamic settings service.
// An operator-editable document layered over compiled-in defaults,
// cached in-process for O(1) reads and refreshed from Redis on demand
// or on explicit notification (broadcast.go).
package taskforge

import (
	"context"
	"sync"
	"time"
)

// SettingsConfig configures the dynamic settings document's Redis key.
type SettingsConfig struct {
	Prefix string
}

func (c SettingsConfig) withDefaults() SettingsConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultKeyPrefix
	}
	return c
}

// settingsDocument is the on-disk (in-Redis) representation: operator
// overrides plus the timestamp of the last mutation.
type settingsDocument struct {
	Overrides map[string]interface{} `json:"overrides"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// SettingsMeta is the metadata sidecar written alongside the overrides
// document on every mutation: when the last change happened and which
// keys it touched.
type SettingsMeta struct {
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedKeys []string  `json:"updated_keys"`
}

// Settings is the dynamic settings service: runtime-overridable keys
// backed by Redis, falling back to compiled-in defaults.
// Reads of Cached are in-memory only and lock-protected; every
// mutation (Update/Reset) re-derives the snapshot from Redis so
// concurrent readers never see a half-applied patch.
type Settings struct {
	cfg    SettingsConfig
	ops    *redisOps
	logger *Logger

	mu       sync.RWMutex
	snapshot map[string]interface{} // defaults overlaid with the last-known overrides

	broadcaster *SettingsBroadcaster // optional; notifies other processes of a mutation
}

// NewSettings constructs a Settings service and primes its snapshot
// from defaults (Refresh should be called once Redis is reachable to
// pick up any existing overrides document).
func NewSettings(pool *RedisPool, cfg SettingsConfig, logger *Logger) *Settings {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NewLogger("Settings")
	}
	s := &Settings{
		cfg:    cfg,
		ops:    newRedisOps(pool),
		logger: logger,
	}
	s.mu.Lock()
	s.snapshot = Defaults()
	s.mu.Unlock()
	return s
}

func (s *Settings) key() string {
	return dynamicSettingsKey(s.cfg.Prefix)
}

func (s *Settings) metaKey() string {
	return dynamicSettingsMetaKey(s.cfg.Prefix)
}

func (s *Settings) writeMeta(ctx context.Context, keys []string, updatedAt time.Time) {
	meta := SettingsMeta{UpdatedAt: updatedAt, UpdatedKeys: keys}
	if err := s.ops.setJSON(ctx, s.metaKey(), meta, 0); err != nil {
		s.logger.Warn("settings metadata write failed", "error", err)
	}
}

// Meta returns the metadata sidecar describing the last mutation, or
// ok=false if no mutation has ever been recorded.
func (s *Settings) Meta(ctx context.Context) (*SettingsMeta, bool, error) {
	var meta SettingsMeta
	found, err := s.ops.getJSON(ctx, s.metaKey(), &meta)
	if err != nil || !found {
		return nil, found, err
	}
	return &meta, true, nil
}

// SetBroadcaster attaches a SettingsBroadcaster so that Update/Reset
// notify other processes listening on the settings-change stream.
// Optional: a nil broadcaster (the default) makes mutations local-only,
// and other processes see a change on their next Refresh or GetAll.
func (s *Settings) SetBroadcaster(b *SettingsBroadcaster) {
	s.broadcaster = b
}

func (s *Settings) notify(ctx context.Context, keys []string, updatedAt time.Time) {
	if s.broadcaster == nil || len(keys) == 0 {
		return
	}
	if _, err := s.broadcaster.Publish(ctx, keys, updatedAt); err != nil {
		s.logger.Warn("settings broadcast publish failed", "error", err)
	}
}

// Defaults returns a fresh copy of the compiled-in default settings
// (settingsdefaults.go), never sharing the backing map with callers.
func (s *Settings) Defaults() map[string]interface{} {
	return Defaults()
}

// GetAll returns the effective settings map (defaults overlaid with
// operator overrides), refreshing the in-memory snapshot from Redis
// first. On a Redis outage, GetAll degrades to the last-known
// snapshot (which itself degrades to defaults if no override was ever
// successfully read).
func (s *Settings) GetAll(ctx context.Context) map[string]interface{} {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("settings refresh failed, serving last-known snapshot", "error", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.snapshot)
}

// Cached reads key from the in-memory snapshot only — no Redis round
// trip — returning def if key is absent.
func (s *Settings) Cached(key string, def interface{}) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.snapshot[key]; ok {
		return v
	}
	return def
}

// Refresh reloads the overrides document from Redis and recomputes
// the in-memory snapshot. Safe to call concurrently; the last writer
// wins for the snapshot pointer, which is always a fresh map, never
// mutated in place.
func (s *Settings) Refresh(ctx context.Context) error {
	var doc settingsDocument
	found, err := s.ops.getJSON(ctx, s.key(), &doc)
	if err != nil {
		return err
	}

	merged := Defaults()
	if found {
		for k, v := range doc.Overrides {
			merged[k] = v
		}
	}

	s.mu.Lock()
	s.snapshot = merged
	s.mu.Unlock()
	return nil
}

// Update performs a read-modify-write of the full overrides document,
// applying patch on top of whatever overrides currently exist, then
// refreshes the snapshot. Keys the defaults loader does not enumerate
// are rejected; a Redis outage fails with a transient error.
func (s *Settings) Update(ctx context.Context, patch map[string]interface{}) error {
	known := Defaults()
	var unknown []string
	for k := range patch {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return NewValidationError("unknown dynamic settings keys", map[string]interface{}{"keys": unknown})
	}

	var doc settingsDocument
	found, err := s.ops.getJSON(ctx, s.key(), &doc)
	if err != nil {
		return err
	}
	if !found || doc.Overrides == nil {
		doc.Overrides = make(map[string]interface{})
	}
	for k, v := range patch {
		doc.Overrides[k] = v
	}
	doc.UpdatedAt = time.Now().UTC()

	if err := s.ops.setJSON(ctx, s.key(), doc, 0); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	patchKeys := make([]string, 0, len(patch))
	for k := range patch {
		patchKeys = append(patchKeys, k)
	}
	s.writeMeta(ctx, patchKeys, doc.UpdatedAt)
	s.notify(ctx, patchKeys, doc.UpdatedAt)
	return nil
}

// Reset clears overrides for the given keys, or every override if keys
// is empty, then refreshes the snapshot.
func (s *Settings) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		if err := s.ops.del(ctx, s.key()); err != nil {
			return err
		}
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		allKeys := make([]string, 0, len(s.Defaults()))
		for k := range s.Defaults() {
			allKeys = append(allKeys, k)
		}
		s.writeMeta(ctx, allKeys, now)
		s.notify(ctx, allKeys, now)
		return nil
	}

	var doc settingsDocument
	found, err := s.ops.getJSON(ctx, s.key(), &doc)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	for _, k := range keys {
		delete(doc.Overrides, k)
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := s.ops.setJSON(ctx, s.key(), doc, 0); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.writeMeta(ctx, keys, doc.UpdatedAt)
	s.notify(ctx, keys, doc.UpdatedAt)
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
