package cache

import (
	"testing"
	"time"

	"csvsearch/internal/domain"
)

func result(collection string) domain.QueryResult {
	return domain.QueryResult{
		Collection: collection,
		Rows:       []domain.ResultRow{{ID: "row-1", Score: 0.9}},
	}
}

func TestQueryCache_HitAndMiss(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	key := Key("parts", "worn brake pad", 5, nil)

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(key, c.Generation(), result("parts"))
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.Collection != "parts" || len(got.Rows) != 1 {
		t.Errorf("unexpected cached result: %+v", got)
	}
}

func TestQueryCache_KeyDistinguishesInputs(t *testing.T) {
	base := Key("parts", "brake", 5, nil)
	variants := []string{
		Key("other", "brake", 5, nil),
		Key("parts", "brakes", 5, nil),
		Key("parts", "brake", 6, nil),
		Key("parts", "brake", 5, []string{"Part_No"}),
		Key("part", "sbrake", 5, nil),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collides with base key", i)
		}
	}
}

func TestQueryCache_InvalidateDropsEntries(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	key := Key("parts", "brake", 5, nil)
	c.Put(key, c.Generation(), result("parts"))

	c.Invalidate()

	if _, ok := c.Get(key); ok {
		t.Error("expected miss after invalidate")
	}
	if c.Size() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Size())
	}
}

func TestQueryCache_StalePutIgnored(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	key := Key("parts", "brake", 5, nil)

	gen := c.Generation()
	c.Invalidate() // a write lands while the query is running
	c.Put(key, gen, result("parts"))

	if _, ok := c.Get(key); ok {
		t.Error("result computed before invalidation must not be cached")
	}
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	a, b, d := Key("c", "a", 1, nil), Key("c", "b", 1, nil), Key("c", "d", 1, nil)

	c.Put(a, c.Generation(), result("a"))
	c.Put(b, c.Generation(), result("b"))
	c.Get(a) // a becomes most recent
	c.Put(d, c.Generation(), result("d"))

	if _, ok := c.Get(b); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("expected a to survive")
	}
	if _, ok := c.Get(d); !ok {
		t.Error("expected d to be cached")
	}
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	c := NewQueryCache(10, 10*time.Millisecond)
	key := Key("parts", "brake", 5, nil)
	c.Put(key, c.Generation(), result("parts"))

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Error("expected entry to expire")
	}
}
