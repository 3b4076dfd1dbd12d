package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/probeops/agentgate/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.FlushDB(ctx) })

	s, err := New(client, "agentgate-test:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRedisSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Set(ctx, "sessions:a", []byte("dump")); err != nil {
		t.Fatal(err)
	}
	item, err := s.Get(ctx, "sessions:a")
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || string(item.Data) != "dump" {
		t.Fatalf("got %v", item)
	}

	keys, err := s.List(ctx, "sessions:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "sessions:a" {
		t.Fatalf("List = %v", keys)
	}

	if err := s.Delete(ctx, "sessions:a"); err != nil {
		t.Fatal(err)
	}
	if item, _ := s.Get(ctx, "sessions:a"); item != nil {
		t.Fatalf("deleted key still present")
	}
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Set(ctx, "short", []byte("x"), storage.WithTTL(50*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if item, _ := s.Get(ctx, "short"); item != nil {
		t.Fatalf("expired key still present")
	}
}
