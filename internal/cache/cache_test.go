package cache

import (
	"context"
	"testing"
	"time"
)

func TestCacheExpiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "default", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := c.SetWithExpire(ctx, "long", []byte("b"), time.Hour); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "default"); ok {
		t.Error("expected default-TTL entry to expire")
	}
	if v, ok, _ := c.Get(ctx, "long"); !ok || string(v) != "b" {
		t.Errorf("Get(long) = %q, %v", v, ok)
	}

	c.purge()
	if c.Len() != 1 {
		t.Errorf("Len() after purge = %d, want 1", c.Len())
	}
}

func TestCacheSetIfNotExists(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	ctx := context.Background()

	if wrote, _ := c.SetIfNotExists(ctx, "k", []byte("1")); !wrote {
		t.Fatal("expected first write to succeed")
	}
	if wrote, _ := c.SetIfNotExists(ctx, "k", []byte("2")); wrote {
		t.Fatal("expected second write to be skipped")
	}
	v, _, _ := c.Get(ctx, "k")
	if string(v) != "1" {
		t.Errorf("value = %q, want 1", v)
	}
}

func TestPoolIsolatesCollections(t *testing.T) {
	p := NewPool(time.Minute)
	defer p.Close()
	ctx := context.Background()

	if err := p.Get("a").Set(ctx, "k", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := p.Get("b").Set(ctx, "k", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := p.Get("a").DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := p.Get("a").Get(ctx, "k"); ok {
		t.Error("collection a should be empty")
	}
	if v, ok, _ := p.Get("b").Get(ctx, "k"); !ok || string(v) != "b" {
		t.Errorf("collection b = %q, %v", v, ok)
	}
}
