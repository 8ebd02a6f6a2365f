// Package taskforge schedule state store.
// The Redis-resident status/meta/history/index records for every live
// schedule_id. Every write that touches more than one of those
// artifacts goes through a single MULTI/EXEC pipeline so status,
// history, and index membership move together.
package taskforge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scheduleMetaTTL = 7 * 24 * time.Hour
const scheduleMaxHistory = 100

// ScheduleStore owns the Redis-resident status, metadata, history, and
// config index records for live schedule instances.
type ScheduleStore struct {
	pool   *RedisPool
	prefix string
	ops    *redisOps
}

// NewScheduleStore builds a ScheduleStore over pool.
func NewScheduleStore(pool *RedisPool) *ScheduleStore {
	return &ScheduleStore{pool: pool, prefix: pool.Prefix(), ops: newRedisOps(pool)}
}

// Pool exposes the underlying Redis pool so callers that need a raw
// health check (e.g. the task service facade's GetSystemHealth) don't
// need their own reference threaded through.
func (s *ScheduleStore) Pool() *RedisPool {
	return s.pool
}

// AddToIndex records scheduleID under configID's instance set.
func (s *ScheduleStore) AddToIndex(ctx context.Context, configID int64, scheduleID string) error {
	return s.ops.sadd(ctx, scheduleIndexKey(s.prefix, configID), scheduleID)
}

// RemoveFromIndex drops scheduleID from configID's instance set.
func (s *ScheduleStore) RemoveFromIndex(ctx context.Context, configID int64, scheduleID string) error {
	return s.ops.pool.WithConn(ctx, func(c *redis.Client) error {
		return c.SRem(ctx, scheduleIndexKey(s.prefix, configID), scheduleID).Err()
	})
}

// ListIDs returns every schedule_id registered against configID.
func (s *ScheduleStore) ListIDs(ctx context.Context, configID int64) ([]string, error) {
	return s.ops.smembers(ctx, scheduleIndexKey(s.prefix, configID))
}

// SetStatus sets scheduleID's status and appends a status_changed
// history event, atomically.
func (s *ScheduleStore) SetStatus(ctx context.Context, scheduleID string, status Status) error {
	event := ScheduleEvent{Type: "status_changed", At: time.Now().UTC(), Data: map[string]interface{}{"status": string(status)}}
	eventJSON, err := event.toJSON()
	if err != nil {
		return NewInternalError("encode status_changed event", err)
	}

	err = s.pool.WithConn(ctx, func(c *redis.Client) error {
		pipe := c.TxPipeline()
		pipe.Set(ctx, scheduleStatusKey(s.prefix, scheduleID), string(status), 0)
		pipe.LPush(ctx, scheduleHistoryKey(s.prefix, scheduleID), eventJSON)
		pipe.LTrim(ctx, scheduleHistoryKey(s.prefix, scheduleID), 0, scheduleMaxHistory-1)
		pipe.Expire(ctx, scheduleHistoryKey(s.prefix, scheduleID), scheduleMetaTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return NewTransientError("set status pipeline failed", err)
	}
	return nil
}

// GetStatus reads scheduleID's current status. Returns
// StatusInactive, false if no status key exists.
func (s *ScheduleStore) GetStatus(ctx context.Context, scheduleID string) (Status, bool, error) {
	var raw string
	err := s.pool.WithConn(ctx, func(c *redis.Client) error {
		v, err := c.Get(ctx, scheduleStatusKey(s.prefix, scheduleID)).Result()
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == redis.Nil {
		return StatusInactive, false, nil
	}
	if err != nil {
		return "", false, NewTransientError("get status failed", err)
	}
	return Status(raw), true, nil
}

// SetMeta stores snapshot as scheduleID's metadata document, TTL 7 days.
func (s *ScheduleStore) SetMeta(ctx context.Context, scheduleID string, snapshot *ScheduleMeta) error {
	return s.ops.setJSON(ctx, scheduleMetaKey(s.prefix, scheduleID), snapshot, int(scheduleMetaTTL.Seconds()))
}

// GetMeta fetches scheduleID's metadata document, or ok=false if absent.
func (s *ScheduleStore) GetMeta(ctx context.Context, scheduleID string) (*ScheduleMeta, bool, error) {
	var meta ScheduleMeta
	found, err := s.ops.getJSON(ctx, scheduleMetaKey(s.prefix, scheduleID), &meta)
	if err != nil || !found {
		return nil, found, err
	}
	return &meta, true, nil
}

// AddEvent appends event to scheduleID's bounded history list: LPUSH
// then LTRIM to max history, then EXPIRE.
func (s *ScheduleStore) AddEvent(ctx context.Context, scheduleID string, event ScheduleEvent) error {
	data, err := event.toJSON()
	if err != nil {
		return NewInternalError("encode history event", err)
	}
	err = s.pool.WithConn(ctx, func(c *redis.Client) error {
		pipe := c.TxPipeline()
		pipe.LPush(ctx, scheduleHistoryKey(s.prefix, scheduleID), data)
		pipe.LTrim(ctx, scheduleHistoryKey(s.prefix, scheduleID), 0, scheduleMaxHistory-1)
		pipe.Expire(ctx, scheduleHistoryKey(s.prefix, scheduleID), scheduleMetaTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return NewTransientError("add event pipeline failed", err)
	}
	return nil
}

// History returns up to limit of the most recent events, newest first.
func (s *ScheduleStore) History(ctx context.Context, scheduleID string, limit int64) ([]ScheduleEvent, error) {
	raw, err := s.ops.lrange(ctx, scheduleHistoryKey(s.prefix, scheduleID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	events := make([]ScheduleEvent, 0, len(raw))
	for _, r := range raw {
		var e ScheduleEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// FullInfo assembles {status, meta, history} for scheduleID in one
// read, without an interleaved SCAN.
func (s *ScheduleStore) FullInfo(ctx context.Context, scheduleID string, historyLimit int64) (*ScheduleInfo, error) {
	status, _, err := s.GetStatus(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	meta, _, err := s.GetMeta(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	history, err := s.History(ctx, scheduleID, historyLimit)
	if err != nil {
		return nil, err
	}
	return &ScheduleInfo{ScheduleID: scheduleID, Status: status, Meta: meta, History: history}, nil
}

// StatusSummary tallies live schedule_id counts by status, scanning
// every schedule:status:* key.
func (s *ScheduleStore) StatusSummary(ctx context.Context) (map[Status]int, error) {
	keys, err := s.ops.scanKeys(ctx, scheduleStatusScanPattern(s.prefix))
	if err != nil {
		return nil, err
	}

	summary := make(map[Status]int)
	err = s.pool.WithConn(ctx, func(c *redis.Client) error {
		if len(keys) == 0 {
			return nil
		}
		pipe := c.Pipeline()
		cmds := make([]*redis.StringCmd, len(keys))
		for i, k := range keys {
			cmds[i] = pipe.Get(ctx, k)
		}
		_, err := pipe.Exec(ctx)
		if err != nil && err != redis.Nil {
			return err
		}
		for _, cmd := range cmds {
			v, err := cmd.Result()
			if err != nil {
				continue
			}
			summary[Status(v)]++
		}
		return nil
	})
	if err != nil {
		return nil, NewTransientError("status summary pipeline failed", err)
	}
	return summary, nil
}

// PurgeArtifacts deletes status, meta, and history for scheduleID in
// one DEL call.
func (s *ScheduleStore) PurgeArtifacts(ctx context.Context, scheduleID string) error {
	return s.ops.del(ctx,
		scheduleStatusKey(s.prefix, scheduleID),
		scheduleMetaKey(s.prefix, scheduleID),
		scheduleHistoryKey(s.prefix, scheduleID),
	)
}

// DefaultLegacyKeyPattern is the glob CleanupLegacyKeys sweeps by default.
// The canonical format is "schedule:config:<id>:<uid>"; this matches
// the deprecated flat format an earlier deployment generation used
// ("task:<uid>", no config segment), per the open-question decision in
// DESIGN.md: the pattern is configurable rather than hardcoded.
const DefaultLegacyKeyPattern = "task:*"

// CleanupLegacyKeys scans and deletes keys matching pattern (an
// operator-supplied glob, defaulting to DefaultLegacyKeyPattern) and
// returns the count removed.
func (s *ScheduleStore) CleanupLegacyKeys(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = DefaultLegacyKeyPattern
	}
	fullPattern := fmt.Sprintf("%s:%s", s.prefix, strings.TrimPrefix(pattern, s.prefix+":"))
	keys, err := s.ops.scanKeys(ctx, fullPattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.ops.del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
