package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    RateLimit
		wantErr bool
	}{
		{"10/s", RateLimit{MaxRequests: 10, Period: PerSecond}, false},
		{"1/m", RateLimit{MaxRequests: 1, Period: PerMinute}, false},
		{"0/s", RateLimit{}, true},
		{"10/h", RateLimit{}, true},
		{"abc/s", RateLimit{}, true},
		{"10", RateLimit{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLimiter_BurstThenBlock(t *testing.T) {
	l := New(RateLimit{MaxRequests: 2, Period: PerSecond})
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Third acquire within the same period must block until refill.
	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Errorf("third acquire returned too quickly: %v", time.Since(start))
	}
}

func TestLimiter_ContextCancel(t *testing.T) {
	l := New(RateLimit{MaxRequests: 1, Period: PerMinute})
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(cctx); err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}
