// Package taskforge Redis key namespace.
// Every Redis key used anywhere in this module must be produced by a
// function in this file — no other file should format a key string by
// hand.
package taskforge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultKeyPrefix is the root namespace segment for this deployment. Tests
// and multi-tenant hosts override it via RedisPoolConfig.Prefix /
// CacheConfig.Prefix so several logical instances can share one Redis.
const DefaultKeyPrefix = "taskforge"

func scheduleStatusKey(prefix, scheduleID string) string {
	return fmt.Sprintf("%s:schedule:status:%s", prefix, scheduleID)
}

func scheduleMetaKey(prefix, scheduleID string) string {
	return fmt.Sprintf("%s:schedule:meta:%s", prefix, scheduleID)
}

func scheduleHistoryKey(prefix, scheduleID string) string {
	return fmt.Sprintf("%s:schedule:history:%s", prefix, scheduleID)
}

func scheduleIndexKey(prefix string, configID int64) string {
	return fmt.Sprintf("%s:schedule:index:config:%d", prefix, configID)
}

func scheduleStatusScanPattern(prefix string) string {
	return fmt.Sprintf("%s:schedule:status:*", prefix)
}

func cacheKey(prefix, key string) string {
	return fmt.Sprintf("%s:cache:%s", prefix, key)
}

func cacheTagKey(prefix, tag string) string {
	return fmt.Sprintf("%s:cache:tag:%s", prefix, tag)
}

func dynamicSettingsKey(prefix string) string {
	return fmt.Sprintf("%s:app:dynamic_settings", prefix)
}

func dynamicSettingsMetaKey(prefix string) string {
	return fmt.Sprintf("%s:app:dynamic_settings:meta", prefix)
}

func settingsChangesStreamKey(prefix string) string {
	return fmt.Sprintf("%s:app:settings:changes", prefix)
}

func authKeyPrefix(prefix string) string {
	return fmt.Sprintf("%s:auth:", prefix)
}

// BuildScheduleID builds the canonical schedule_id format
// "schedule:config:<config_id>:<uid>". uid is always a fresh
// 32-hex-char random string; there is no uid argument. Resume passes
// the original id straight through instead of calling this again.
func BuildScheduleID(configID int64) string {
	uid := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("schedule:config:%d:%s", configID, uid)
}

// ParseScheduleID recovers the config_id embedded in a canonical
// schedule_id. Legacy/foreign formats are not an error — they return
// ok=false so callers fall back to a metadata lookup.
func ParseScheduleID(scheduleID string) (configID int64, ok bool) {
	parts := strings.Split(scheduleID, ":")
	if len(parts) != 4 || parts[0] != "schedule" || parts[1] != "config" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, false
	}
	if len(parts[3]) < 8 || len(parts[3]) > 32 {
		return 0, false
	}
	return id, true
}
