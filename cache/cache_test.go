package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestShardedCacheBasic(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache should miss")
	}

	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = %d, %v; want 2, true", v, ok)
	}

	// Overwrite keeps a single entry.
	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) after overwrite = %d; want 10", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d; want 2", c.Len())
	}
}

func TestShardedCacheGetOrCreate(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)

	calls := 0
	create := func() int {
		calls++
		return 42
	}

	if v := c.GetOrCreate("k", create); v != 42 {
		t.Errorf("GetOrCreate = %d; want 42", v)
	}
	if v := c.GetOrCreate("k", create); v != 42 {
		t.Errorf("GetOrCreate (cached) = %d; want 42", v)
	}
	if calls != 1 {
		t.Errorf("create called %d times; want 1", calls)
	}
}

func TestShardedCacheEviction(t *testing.T) {
	// All keys hash to the same shard with an identity hasher that maps
	// everything to shard 0.
	c := NewSharded[uint64, string](2, func(uint64) uint64 { return 0 })

	var evicted []uint64
	c.OnEvict = func(key uint64, _ string) {
		evicted = append(evicted, key)
	}

	c.Set(1, "one")
	c.Set(2, "two")
	c.Set(3, "three") // evicts 1 (oldest)

	if len(evicted) != 1 || evicted[0] != 1 {
		t.Fatalf("evicted = %v; want [1]", evicted)
	}
	if _, ok := c.Get(1); ok {
		t.Error("key 1 should have been evicted")
	}
	if _, ok := c.Get(2); !ok {
		t.Error("key 2 should still be present")
	}

	// Touching 2 makes 3 the oldest.
	c.Set(4, "four")
	if len(evicted) != 2 || evicted[1] != 3 {
		t.Fatalf("evicted = %v; want [1 3]", evicted)
	}
}

func TestShardedCacheClearInvokesOnEvict(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)

	released := 0
	c.OnEvict = func(string, int) { released++ }

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if released != 2 {
		t.Errorf("OnEvict called %d times on Clear; want 2", released)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d; want 0", c.Len())
	}
}

func TestShardedCacheDelete(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)
	c.OnEvict = func(string, int) {
		t.Error("OnEvict must not fire for explicit Delete")
	}

	c.Set("a", 1)
	if !c.Delete("a") {
		t.Error("Delete(a) = false; want true")
	}
	if c.Delete("a") {
		t.Error("Delete(a) repeated = true; want false")
	}
}

func TestShardedCacheStats(t *testing.T) {
	c := NewSharded[string, int](4, StringHasher)

	c.Set("a", 1)
	c.Get("a")       // hit
	c.Get("missing") // miss

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %d hits %d misses; want 1, 1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %f; want 0.5", stats.HitRate)
	}

	c.ResetStats()
	stats = c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Error("ResetStats did not zero counters")
	}
}

func TestShardedCacheConcurrent(t *testing.T) {
	c := NewSharded[string, int](64, StringHasher)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("key-%d", i%32)
				c.Set(key, g*1000+i)
				c.Get(key)
				c.GetOrCreate(key, func() int { return i })
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 32 {
		t.Errorf("Len() = %d; want <= 32", c.Len())
	}
}
