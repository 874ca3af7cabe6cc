package redisstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"scribe/internal/coord/coordtest"
	"scribe/internal/coord/redisstore"
)

// TestConformance requires a running Redis. It is skipped when none answers on
// SCRIBE_TEST_REDIS_ADDR (default localhost:6379).
func TestConformance(t *testing.T) {
	addr := os.Getenv("SCRIBE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redisstore.New(redisstore.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		t.Skip("Skipping Redis integration test: redis not available")
	}
	_ = client.Close()

	coordtest.Run(t, func(t *testing.T) coordtest.Harness {
		prefix := fmt.Sprintf("scribe-test-%d:", time.Now().UnixNano())
		return coordtest.Harness{
			Store:   redisstore.New(redisstore.Options{Addr: addr, KeyPrefix: prefix}),
			Advance: time.Sleep,
		}
	})
}
