// Package taskforge Lua script registry.
// Loads Lua scripts into Redis once and runs them by SHA, transparently
// reloading on NOSCRIPT (e.g. after a Redis restart flushed the script
// cache). Backs the cache engine's atomic tag invalidation.
package taskforge

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// scriptInvalidateTag atomically reads a tag-set's members, deletes
// every value key plus the tag-set itself, and returns the number of
// members the tag-set listed, members whose value key was already gone
// included — the atomic counterpart to Cache.InvalidateByTag's
// SMEMBERS+DEL fallback.
const scriptInvalidateTag = "invalidate_by_tag"

const invalidateTagScript = `
local members = redis.call("SMEMBERS", KEYS[1])
if #members > 0 then
  redis.call("DEL", unpack(members))
end
redis.call("DEL", KEYS[1])
return #members
`

// ScriptDef defines a Lua script and its expected keys.
type ScriptDef struct {
	Script string
	Keys   map[string]int
}

type registeredScript struct {
	sha string
	def ScriptDef
}

// ScriptRegistry manages Lua scripts for Redis execution using EVALSHA.
type ScriptRegistry struct {
	client  redis.UniversalClient
	scripts map[string]*registeredScript
}

// NewScriptRegistry creates a new ScriptRegistry.
func NewScriptRegistry(client redis.UniversalClient) *ScriptRegistry {
	return &ScriptRegistry{
		client:  client,
		scripts: make(map[string]*registeredScript),
	}
}

// DefaultScripts returns the script set every taskforge deployment
// loads at startup.
func DefaultScripts() map[string]ScriptDef {
	return map[string]ScriptDef{
		scriptInvalidateTag: {
			Script: invalidateTagScript,
			Keys:   map[string]int{"tagSet": 1},
		},
	}
}

// Load loads multiple scripts into Redis and registers them.
func (r *ScriptRegistry) Load(ctx context.Context, scripts map[string]ScriptDef) error {
	for name, def := range scripts {
		sha, err := r.client.ScriptLoad(ctx, def.Script).Result()
		if err != nil {
			return fmt.Errorf("failed to load script %q: %w", name, err)
		}
		r.scripts[name] = &registeredScript{sha: sha, def: def}
	}
	return nil
}

// Run executes a registered script. keys maps the names declared in
// its ScriptDef.Keys to actual Redis key values; args become ARGV.
func (r *ScriptRegistry) Run(ctx context.Context, name string, keys map[string]string, args ...interface{}) (interface{}, error) {
	script, ok := r.scripts[name]
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}

	numKeys := len(script.def.Keys)
	orderedKeys := make([]string, numKeys)
	for keyName, index := range script.def.Keys {
		val, ok := keys[keyName]
		if !ok {
			return nil, fmt.Errorf("missing required key %q for script %q", keyName, name)
		}
		if index < 1 || index > numKeys {
			return nil, fmt.Errorf("invalid key index %d for key %q in script %q", index, keyName, name)
		}
		orderedKeys[index-1] = val
	}
	for i, k := range orderedKeys {
		if k == "" {
			return nil, fmt.Errorf("missing key for index %d in script %q", i+1, name)
		}
	}

	res, err := r.client.EvalSha(ctx, script.sha, orderedKeys, args...).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOSCRIPT") {
			newSha, loadErr := r.client.ScriptLoad(ctx, script.def.Script).Result()
			if loadErr != nil {
				return nil, fmt.Errorf("failed to reload script %q after NOSCRIPT error: %w", name, loadErr)
			}
			script.sha = newSha
			return r.client.EvalSha(ctx, newSha, orderedKeys, args...).Result()
		}
		return nil, err
	}
	return res, nil
}

// Has checks if a script is registered.
func (r *ScriptRegistry) Has(name string) bool {
	_, ok := r.scripts[name]
	return ok
}

// GetSHA returns the SHA of a registered script, or empty string if not found.
func (r *ScriptRegistry) GetSHA(name string) string {
	if s, ok := r.scripts[name]; ok {
		return s.sha
	}
	return ""
}
