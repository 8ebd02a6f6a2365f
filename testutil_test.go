package taskforge

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestPool starts an in-memory miniredis instance and returns a
// RedisPool wired to it — hermetic, no live Redis required.
func newTestPool(t *testing.T) *RedisPool {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisPoolFromClient(client, "tftest", NewLogger("test", LoggerConfig{Silent: true}))
}
