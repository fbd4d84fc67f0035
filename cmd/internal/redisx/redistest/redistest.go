// Package redistest connects integration tests to a real Redis when IMSG_REDIS_URL is set.
package redistest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"protoimsg/cmd/identity/ids"
	"protoimsg/cmd/internal/redisx"
)

// EnvRedisURL names the variable that enables Redis integration tests.
const EnvRedisURL = "IMSG_REDIS_URL"

// Open returns a connected client or skips the test.
func Open(t *testing.T) *redis.Client {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvRedisURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvRedisURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redisx.Open(ctx, raw)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Prefix returns a unique key prefix and deletes every key under it on cleanup.
func Prefix(t *testing.T, client *redis.Client) string {
	t.Helper()

	prefix := "imsg_it_" + strings.ToLower(ids.MustULID(time.Now())) + ":"
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		iter := client.Scan(ctx, 0, prefix+"*", 200).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})
	return prefix
}
