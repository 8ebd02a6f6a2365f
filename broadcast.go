// Package taskforge settings-change broadcaster.
// Fans a dynamic-settings mutation out to every running process so
// each one's in-memory Settings snapshot refreshes promptly instead of
// waiting for its next Refresh or GetAll call. Uses one consumer group per
// process over a Redis Stream so every listener sees every notice
// rather than the notices being load-balanced across them.
package taskforge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettingsChangeMessage is what Update/Reset publish after a
// successful write, so every process (not just the one that made the
// change) knows to refresh.
type SettingsChangeMessage struct {
	ID        string
	Keys      []string
	UpdatedAt time.Time
}

// SettingsBroadcastConfig configures the broadcaster's stream key and
// idle-consumer sweep threshold.
type SettingsBroadcastConfig struct {
	Prefix                string
	ConsumerIdleThreshold time.Duration
	BlockTimeout          time.Duration
}

func (c SettingsBroadcastConfig) withDefaults() SettingsBroadcastConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultKeyPrefix
	}
	if c.ConsumerIdleThreshold <= 0 {
		c.ConsumerIdleThreshold = time.Hour
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	return c
}

func (c SettingsBroadcastConfig) streamKey() string {
	return settingsChangesStreamKey(c.Prefix)
}

// SettingsChangeHandler reacts to an incoming change notice — normally
// Settings.Refresh.
type SettingsChangeHandler func(ctx context.Context, msg SettingsChangeMessage) error

// SettingsBroadcaster publishes settings-change notices and, per
// process, listens for every notice any process published (including
// its own), via a private consumer group so every listener gets every
// message rather than the messages being load-balanced across them.
type SettingsBroadcaster struct {
	client        *redis.Client
	cfg           SettingsBroadcastConfig
	consumerGroup string
	consumerID    string
	handler       SettingsChangeHandler
	logger        *Logger

	running bool
}

// NewSettingsBroadcaster builds a broadcaster bound to workerID's own
// consumer group.
func NewSettingsBroadcaster(client *redis.Client, workerID string, cfg SettingsBroadcastConfig, handler SettingsChangeHandler, logger *Logger) *SettingsBroadcaster {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NewLogger("SettingsBroadcaster")
	}
	return &SettingsBroadcaster{
		client:        client,
		cfg:           cfg,
		consumerGroup: "settings-" + workerID,
		consumerID:    workerID,
		handler:       handler,
		logger:        logger,
	}
}

// Publish announces that keys changed at updatedAt.
func (b *SettingsBroadcaster) Publish(ctx context.Context, keys []string, updatedAt time.Time) (string, error) {
	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return "", NewInternalError("encode settings change keys", err)
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.streamKey(),
		Values: map[string]interface{}{
			"keys":      string(keysJSON),
			"updatedAt": updatedAt.UnixMilli(),
		},
	}).Result()
	if err != nil {
		return "", NewTransientError("publish settings change failed", err)
	}
	return id, nil
}

// Start begins listening for change notices on this process's own
// consumer group, blocking until ctx is cancelled or Stop is called.
func (b *SettingsBroadcaster) Start(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.streamKey(), b.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return NewTransientError("create settings broadcast group failed", err)
	}

	b.running = true
	for b.running {
		result, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: b.consumerID,
			Streams:  []string{b.cfg.streamKey(), ">"},
			Count:    10,
			Block:    b.cfg.BlockTimeout,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if b.running {
				time.Sleep(time.Second)
			}
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				b.handle(ctx, msg)
			}
		}
	}
	return nil
}

// Stop ends the listening loop at the next iteration boundary.
func (b *SettingsBroadcaster) Stop() {
	b.running = false
}

func (b *SettingsBroadcaster) handle(ctx context.Context, msg redis.XMessage) {
	var keys []string
	if raw, ok := msg.Values["keys"].(string); ok {
		_ = json.Unmarshal([]byte(raw), &keys)
	}

	var updatedAt time.Time
	if ms, ok := msg.Values["updatedAt"].(string); ok {
		var millis int64
		if err := json.Unmarshal([]byte(ms), &millis); err == nil {
			updatedAt = time.UnixMilli(millis)
		}
	}

	sc := SettingsChangeMessage{ID: msg.ID, Keys: keys, UpdatedAt: updatedAt}
	if b.handler != nil {
		if err := b.handler(ctx, sc); err != nil {
			b.logger.Error("settings change handler error", "error", err)
			return
		}
	}
	b.client.XAck(ctx, b.cfg.streamKey(), b.consumerGroup, msg.ID)
}

// CleanupGhostGroups removes consumer groups whose members have all
// gone idle past cfg.ConsumerIdleThreshold — processes that exited
// without unsubscribing. Returns the count removed.
func (b *SettingsBroadcaster) CleanupGhostGroups(ctx context.Context) (int, error) {
	deleted := 0

	groups, err := b.client.XInfoGroups(ctx, b.cfg.streamKey()).Result()
	if err != nil {
		return 0, NewTransientError("list settings broadcast groups failed", err)
	}

	for _, group := range groups {
		if group.Name == b.consumerGroup {
			continue
		}
		if b.isGroupIdle(ctx, group.Name) {
			if err := b.client.XGroupDestroy(ctx, b.cfg.streamKey(), group.Name).Err(); err == nil {
				b.logger.Info("deleted stale settings broadcast group", "group", group.Name)
				deleted++
			}
		}
	}
	return deleted, nil
}

func (b *SettingsBroadcaster) isGroupIdle(ctx context.Context, groupName string) bool {
	consumers, err := b.client.XInfoConsumers(ctx, b.cfg.streamKey(), groupName).Result()
	if err != nil {
		return false
	}
	if len(consumers) == 0 {
		return true
	}
	for _, consumer := range consumers {
		if consumer.Idle < b.cfg.ConsumerIdleThreshold {
			return false
		}
	}
	return true
}
