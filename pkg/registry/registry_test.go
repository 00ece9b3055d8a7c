package registry

import (
	"sync"
	"sync/atomic"
	"testing"
)

type config struct {
	name  string
	value int
}

func TestRefCounted_AcquireSharesEqualKeys(t *testing.T) {
	reg := NewRefCounted[config, *int](nil)

	created := 0
	create := func(k config) *int {
		created++
		v := k.value
		return &v
	}

	a, releaseA := reg.Acquire(config{"x", 1}, create)
	b, releaseB := reg.Acquire(config{"x", 1}, create)
	defer releaseA()
	defer releaseB()

	if a != b {
		t.Error("Expected equal keys to resolve to the identical value")
	}
	if created != 1 {
		t.Errorf("Expected 1 construction, got %d", created)
	}
	if reg.Refs(config{"x", 1}) != 2 {
		t.Errorf("Expected 2 refs, got %d", reg.Refs(config{"x", 1}))
	}

	c, releaseC := reg.Acquire(config{"x", 2}, create)
	defer releaseC()
	if c == a {
		t.Error("Expected distinct keys to resolve to distinct values")
	}
	if reg.Len() != 2 {
		t.Errorf("Expected 2 live keys, got %d", reg.Len())
	}
}

func TestRefCounted_ReleaseDestroysOnLastReference(t *testing.T) {
	var destroyed []string
	reg := NewRefCounted[string, string](func(k, v string) {
		destroyed = append(destroyed, k)
	})

	create := func(k string) string { return "value-" + k }

	_, release1 := reg.Acquire("k", create)
	_, release2 := reg.Acquire("k", create)

	release1()
	release1() // Idempotent
	if len(destroyed) != 0 {
		t.Fatalf("Destroyed too early: %v", destroyed)
	}
	if reg.Refs("k") != 1 {
		t.Errorf("Expected 1 ref after double release, got %d", reg.Refs("k"))
	}

	release2()
	if len(destroyed) != 1 || destroyed[0] != "k" {
		t.Errorf("Expected k to be destroyed once, got %v", destroyed)
	}
	if _, ok := reg.Peek("k"); ok {
		t.Error("Expected k to be evicted")
	}
}

func TestRefCounted_RecreatesAfterEviction(t *testing.T) {
	reg := NewRefCounted[string, *int](nil)

	n := 0
	create := func(string) *int {
		n++
		v := n
		return &v
	}

	first, release := reg.Acquire("k", create)
	release()
	second, release := reg.Acquire("k", create)
	defer release()

	if first == second {
		t.Error("Expected a fresh value after the last release")
	}
	if *second != 2 {
		t.Errorf("Expected second construction, got %d", *second)
	}
}

func TestRefCounted_PinSurvivesRelease(t *testing.T) {
	destroyed := 0
	reg := NewRefCounted[string, string](func(string, string) { destroyed++ })
	create := func(k string) string { return k }

	pinned := reg.Pin("k", create)
	v, release := reg.Acquire("k", create)
	release()

	if pinned != v {
		t.Error("Pin and Acquire should share the value")
	}
	if destroyed != 0 {
		t.Error("Pinned value must not be destroyed")
	}
	if _, ok := reg.Peek("k"); !ok {
		t.Error("Pinned value should remain live")
	}
}

func TestRefCounted_Clear(t *testing.T) {
	destroyed := 0
	reg := NewRefCounted[string, string](func(string, string) { destroyed++ })
	create := func(k string) string { return k }

	_, releaseA := reg.Acquire("a", create)
	reg.Pin("b", create)

	reg.Clear()
	if destroyed != 2 {
		t.Errorf("Expected 2 destroyed, got %d", destroyed)
	}
	if reg.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Len())
	}

	// Stale release after Clear must not destroy again
	releaseA()
	if destroyed != 2 {
		t.Errorf("Stale release destroyed again: %d", destroyed)
	}
}

func TestRefCounted_List(t *testing.T) {
	reg := NewRefCounted[string, int](nil)
	reg.Acquire("a", func(string) int { return 1 })
	reg.Acquire("a", func(string) int { return 1 })
	reg.Acquire("b", func(string) int { return 2 })

	refs := make(map[string]int)
	for _, e := range reg.List() {
		refs[e.Key] = e.Refs
	}
	if refs["a"] != 2 || refs["b"] != 1 {
		t.Errorf("Unexpected refs: %v", refs)
	}
}

func TestRefCounted_ConcurrentFirstUse(t *testing.T) {
	reg := NewRefCounted[config, *config](nil)

	var created atomic.Int32
	create := func(k config) *config {
		created.Add(1)
		return &k
	}

	const goroutines = 50
	results := make([]*config, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := reg.Acquire(config{"shared", 7}, create)
			results[i] = v
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("Expected exactly 1 construction, got %d", created.Load())
	}
	for i, v := range results {
		if v != results[0] {
			t.Errorf("Goroutine %d got a different instance", i)
		}
	}
	if reg.Refs(config{"shared", 7}) != goroutines {
		t.Errorf("Expected %d refs, got %d", goroutines, reg.Refs(config{"shared", 7}))
	}
}
