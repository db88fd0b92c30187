package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/radar/intel/schema"
)

func sample(provider string) []schema.NormalizedIntel {
	return []schema.NormalizedIntel{{Provider: provider, Capability: schema.CapSERP, Title: "t"}}
}

func TestRoundTrip(t *testing.T) {
	c := New()
	c.Set("snowboard|burton.com", sample("serpapi"), time.Minute)

	got, ok := c.Get("snowboard|burton.com")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 1 || got[0].Provider != "serpapi" {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestMiss(t *testing.T) {
	c := New()
	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss")
	}
}

func TestStrictExpiry(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := now
	c := New(WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))

	c.Set("k", sample("x"), time.Minute)

	mu.Lock()
	clock = now.Add(61 * time.Second)
	mu.Unlock()

	// Past expiresAt the entry must behave as a miss even though no sweep ran.
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned as hit")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on read: len=%d", c.Len())
	}
}

func TestSweep(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := now
	c := New(WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))

	c.Set("old", sample("a"), time.Second)
	c.Set("fresh", sample("b"), time.Hour)

	mu.Lock()
	clock = now.Add(2 * time.Second)
	mu.Unlock()

	if n := c.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry lost")
	}
}

func TestLastWriteWins(t *testing.T) {
	c := New()
	c.Set("k", sample("first"), time.Minute)
	c.Set("k", sample("second"), time.Minute)

	got, _ := c.Get("k")
	if got[0].Provider != "second" {
		t.Fatalf("got %q, want second", got[0].Provider)
	}
}

func TestZeroTTLStoresNothing(t *testing.T) {
	c := New()
	c.Set("k", sample("x"), 0)
	if _, ok := c.Get("k"); ok {
		t.Fatal("zero ttl must not store")
	}
}
