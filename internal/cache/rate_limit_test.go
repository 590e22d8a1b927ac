package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRateLimiterFixedWindow(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	limiter := NewMemoryRateLimiter(RateLimitRule{Prefix: "entrega:rate:inbound", WindowSeconds: 60, MaxRequests: 2}).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "5511999990000")
		if err != nil || !allowed {
			t.Fatalf("request %d should pass, allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, wait, err := limiter.Allow(ctx, "5511999990000")
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if allowed || wait != time.Minute {
		t.Fatalf("third request should be limited for 1m, allowed=%v wait=%v", allowed, wait)
	}
	if allowed, _, _ := limiter.Allow(ctx, "5511888880000"); !allowed {
		t.Fatalf("other keys have their own window")
	}

	clock.current = clock.current.Add(61 * time.Second)
	if allowed, _, _ := limiter.Allow(ctx, "5511999990000"); !allowed {
		t.Fatalf("window should reset")
	}
}

func TestRateLimitersDisabledRule(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryRateLimiter(RateLimitRule{WindowSeconds: 0, MaxRequests: 1})
	for i := 0; i < 5; i++ {
		if allowed, _, _ := memory.Allow(ctx, "k"); !allowed {
			t.Fatalf("disabled rule must always allow")
		}
	}
	redisLimiter := NewRedisRateLimiter(nil, RateLimitRule{WindowSeconds: 60, MaxRequests: 1})
	if allowed, _, err := redisLimiter.Allow(ctx, "k"); !allowed || err != nil {
		t.Fatalf("limiter without client must allow, got %v %v", allowed, err)
	}
}

func TestToInt64(t *testing.T) {
	cases := []struct {
		input interface{}
		want  int64
		ok    bool
	}{
		{int64(10), 10, true},
		{int(11), 11, true},
		{float64(13.9), 13, true},
		{"bad", 0, false},
	}
	for _, tc := range cases {
		got, ok := toInt64(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("toInt64(%v) = %d,%v want %d,%v", tc.input, got, ok, tc.want, tc.ok)
		}
	}
	if waitFor(-1, 60) != time.Minute || waitFor(5, 60) != 5*time.Second || waitFor(0, 0) != time.Second {
		t.Fatalf("unexpected wait computation")
	}
}
