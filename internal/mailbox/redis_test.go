package mailbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T, capacity int, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), capacity, ttl)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreAppendDrainRoundTrip(t *testing.T) {
	s, _ := newTestRedisStore(t, 100, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, "s1", textMsg(t, "s1", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Drain(ctx, "s1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		want := fmt.Sprintf("msg-%d", i)
		if got := m.Content.PlainText(); got != want {
			t.Errorf("message %d = %q, want %q", i, got, want)
		}
	}

	if msgs, _ := s.Drain(ctx, "s1"); len(msgs) != 0 {
		t.Errorf("second drain: expected empty, got %d", len(msgs))
	}
}

func TestRedisStoreTrimsBeyondCap(t *testing.T) {
	s, _ := newTestRedisStore(t, 100, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		if err := s.Append(ctx, "s1", textMsg(t, "s1", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := s.Drain(ctx, "s1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(msgs) != 100 {
		t.Fatalf("expected 100 messages, got %d", len(msgs))
	}
	if got := msgs[0].Content.PlainText(); got != "msg-1" {
		t.Errorf("oldest survivor = %q, want msg-1", got)
	}
}

func TestRedisStoreExpiresAfterTTL(t *testing.T) {
	s, mr := newTestRedisStore(t, 100, 5*time.Minute)
	ctx := context.Background()

	if err := s.Append(ctx, "s1", textMsg(t, "s1", "stale")); err != nil {
		t.Fatalf("append: %v", err)
	}

	mr.FastForward(5*time.Minute + time.Second)

	msgs, err := s.Drain(ctx, "s1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected expired mailbox, got %d messages", len(msgs))
	}
}

func TestRedisStoreDrainSkipsCorruptEntries(t *testing.T) {
	s, mr := newTestRedisStore(t, 100, 5*time.Minute)
	ctx := context.Background()

	s.Append(ctx, "s1", textMsg(t, "s1", "good"))
	mr.Lpush(redisKeyPrefix+"s1", "{not json")

	msgs, err := s.Drain(ctx, "s1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content.PlainText() != "good" {
		t.Errorf("expected only the valid message, got %+v", msgs)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newTestRedisStore(t, 100, 5*time.Minute)
	ctx := context.Background()
	mr.Close()

	if err := s.Append(ctx, "s1", textMsg(t, "s1", "x")); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("append error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.Drain(ctx, "s1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("drain error = %v, want ErrStoreUnavailable", err)
	}
}
