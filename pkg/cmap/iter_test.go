package cmap

import (
	"sort"
	"sync"
	"testing"
)

func TestRangeStopsEarly(t *testing.T) {
	m := New[uint64, int](Uint64Hasher)
	for i := uint64(1); i <= 4; i++ {
		m.Set(i, int(i))
	}

	sum := 0
	m.Range(func(_ uint64, v int) bool {
		sum += v
		return true
	})
	if sum != 10 {
		t.Errorf("sum = %d, want 10", sum)
	}

	seen := 0
	m.Range(func(uint64, int) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Errorf("visited %d entries after stop, want 1", seen)
	}
}

func TestValues(t *testing.T) {
	m := New[uint64, int](Uint64Hasher)
	m.Set(1, 10)
	m.Set(2, 20)
	vals := m.Values()
	sort.Ints(vals)
	if len(vals) != 2 || vals[0] != 10 || vals[1] != 20 {
		t.Errorf("Values() = %v", vals)
	}
}

func TestComputeKeepAndDrop(t *testing.T) {
	m := New[uint64, int](Uint64Hasher)

	v, keep := m.Compute(9, func(cur int, exists bool) (int, bool) {
		if exists {
			t.Error("absent key reported as present")
		}
		return cur + 3, true
	})
	if v != 3 || !keep {
		t.Fatalf("Compute = (%d, %v)", v, keep)
	}

	m.Compute(9, func(int, bool) (int, bool) { return 0, false })
	if _, ok := m.Get(9); ok {
		t.Error("key survived keep=false")
	}

	m.Compute(10, func(int, bool) (int, bool) { return 0, false })
	if m.Count() != 0 {
		t.Error("keep=false on absent key inserted it")
	}
}

func TestComputeSerializes(t *testing.T) {
	m := New[uint64, int](Uint64Hasher)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Compute(1, func(cur int, _ bool) (int, bool) { return cur + 1, true })
		}()
	}
	wg.Wait()
	if v, _ := m.Get(1); v != 50 {
		t.Errorf("counter = %d, want 50", v)
	}
}
