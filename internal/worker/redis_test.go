package worker

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"duochat/internal/config"
	"duochat/internal/models"
	"duochat/internal/redis"
)

func TestStateCacheStoreLoadAndRemove(t *testing.T) {
	client := newRedisClient(t)
	sc := newStateCache(client, "instance-a")

	st := &models.SessionState{Username: "alice", Mode: "openai", CurrentChat: "Chat 2", Mail: models.MailState{Draft: "hi"}}
	sc.store(st)

	got, ok := sc.load("alice")
	if !ok {
		t.Fatalf("expected state mirrored")
	}
	if got.Mode != "openai" || got.CurrentChat != "Chat 2" || got.Mail.Draft != "hi" {
		t.Fatalf("mirrored state mismatch: %#v", got)
	}
	if _, ok := sc.load("bob"); ok {
		t.Fatalf("unexpected state for bob")
	}

	sc.remove("alice")
	if _, ok := sc.load("alice"); ok {
		t.Fatalf("expected state removed")
	}
}

func TestStateCachePubSub(t *testing.T) {
	client := newRedisClient(t)
	a := newStateCache(client, "instance-a")
	b := newStateCache(client, "instance-b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan invalidateMessage, 4)
	b.startListener(ctx, func(msg invalidateMessage) { received <- msg })
	own := make(chan invalidateMessage, 4)
	a.startListener(ctx, func(msg invalidateMessage) { own <- msg })
	time.Sleep(100 * time.Millisecond)

	a.publishInvalidation("alice", scopeLogout)
	select {
	case msg := <-received:
		if msg.Username != "alice" || msg.Scope != scopeLogout || msg.Origin != "instance-a" {
			t.Fatalf("unexpected message: %#v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("invalidation not received")
	}
	select {
	case msg := <-own:
		t.Fatalf("publisher received its own message: %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerDropsStateOnRemoteLogout(t *testing.T) {
	client := newRedisClient(t)
	cfg := DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 2}
	m1 := NewManager(cfg, "gemini", client)
	defer m1.Close()
	m2 := NewManager(cfg, "gemini", client)
	defer m2.Close()
	time.Sleep(100 * time.Millisecond)

	if _, err := m1.UpdateState("carol", func(s *models.SessionState) error {
		s.Mode = "openai"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := m2.State("carol"); got.Mode != "openai" {
		t.Fatalf("second instance did not load mirrored state: %#v", got)
	}

	m1.ResetUser("carol")
	waitFor(t, func() bool { return m2.state.len() == 0 })
	if got := m2.State("carol"); got.Mode != "gemini" {
		t.Fatalf("expected defaults after remote logout, got %#v", got)
	}
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed worker tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
