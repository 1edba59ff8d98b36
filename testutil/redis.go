package testutil

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
)

// SetupTestRedis connects to the Redis named by TEST_REDIS_URL and flushes it.
// It skips the test if TEST_REDIS_URL environment variable is not set.
func SetupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		t.Fatalf("failed to flush redis: %v", err)
	}
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return rdb
}
