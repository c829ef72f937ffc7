package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
)

func setupTestRedis(t *testing.T) (*RedisNotifier, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	n, err := NewRedisNotifier("redis://"+s.Addr(), "coleta:notifications")
	if err != nil {
		t.Fatalf("failed to create redis notifier: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n, s
}

func TestNewRedisNotifier_badURL(t *testing.T) {
	if _, err := NewRedisNotifier("not-a-url", "c"); err == nil {
		t.Error("expected parse error")
	}
}

func TestRedisNotifier_publishes(t *testing.T) {
	n, _ := setupTestRedis(t)
	ctx := context.Background()

	sub := n.client.Subscribe(ctx, "coleta:notifications")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := syncpkg.Notification{Severity: syncpkg.SeveritySuccess, Title: "Sincronização concluída", Succeeded: 2}
	if err := n.Notify(ctx, want); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got syncpkg.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if got.Title != want.Title || got.Succeeded != 2 {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRedisNotifier_historyIsCapped(t *testing.T) {
	n, _ := setupTestRedis(t)
	n.historySize = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := n.Notify(ctx, syncpkg.Notification{Message: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	history, err := n.History(ctx, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d entries, want 3", len(history))
	}
	if history[0].Message != "msg-4" || history[2].Message != "msg-2" {
		t.Errorf("history = %v, want newest first", history)
	}

	limited, err := n.History(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("History(1) = %v, %v", limited, err)
	}
}

func TestRedisNotifier_failsWhenServerDown(t *testing.T) {
	n, s := setupTestRedis(t)
	s.Close()

	if err := n.Notify(context.Background(), syncpkg.Notification{}); err == nil {
		t.Error("Notify should fail when redis is down")
	}
}
