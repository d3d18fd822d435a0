package thirdcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute, []Config{{Namespace: "hal", TTL: time.Hour}})
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "hal", "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a miss")
	}
}

func TestSetThenGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "hal", "docid-1", []byte(`{"title":"x"}`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.Get(ctx, "hal", "docid-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(v) != `{"title":"x"}` {
		t.Fatalf("value = %q", v)
	}
}

func TestSetIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.Set(ctx, "openalex", "k", []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	v, ok, err := c.Get(ctx, "openalex", "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("got %q, %v, %v", v, ok, err)
	}
}

func TestDefaultTTLAppliesToUnconfiguredNamespace(t *testing.T) {
	c := newTestCache(t)
	if c.ttlFor("scopus") != time.Minute {
		t.Fatalf("ttlFor(unconfigured) = %v, want default", c.ttlFor("scopus"))
	}
	if c.ttlFor("hal") != time.Hour {
		t.Fatalf("ttlFor(hal) = %v, want configured override", c.ttlFor("hal"))
	}
}
