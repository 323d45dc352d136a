package lb

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/keyroute/keyroute/internal/ringhash"
)

func namedBackends(names ...string) []*Backend {
	backends := make([]*Backend, len(names))
	for i, n := range names {
		backends[i] = &Backend{Addr: n}
	}
	return backends
}

// --- Round Robin ---

func TestRoundRobinCycles(t *testing.T) {
	backends := namedBackends("A", "B", "C")
	rr := NewRoundRobin(backends)

	// The counter starts at 1, so the first pick is index 1.
	for i := 0; i < 9; i++ {
		got := rr.Pick(0, 0)
		want := backends[(i+1)%3]
		if got != want {
			t.Errorf("call %d: got %s, want %s", i, got.Addr, want.Addr)
		}
	}
}

func TestRoundRobinConcurrent(t *testing.T) {
	rr := NewRoundRobin(namedBackends("A", "B", "C"))

	var wg sync.WaitGroup
	mu := sync.Mutex{}
	counts := map[string]int{}

	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := rr.Pick(0, 0)
			mu.Lock()
			counts[b.Addr]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, addr := range []string{"A", "B", "C"} {
		if counts[addr] != 100 {
			t.Errorf("expected 100 for %s, got %d", addr, counts[addr])
		}
	}
}

func TestRoundRobinRebuildSwapsSet(t *testing.T) {
	rr := NewRoundRobin(namedBackends("A", "B"))
	if err := rr.Rebuild(namedBackends("C")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if got := rr.Pick(0, 0); got.Addr != "C" {
			t.Fatalf("expected C after rebuild, got %s", got.Addr)
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	rr := NewRoundRobin(nil)
	if got := rr.Pick(0, 0); got != nil {
		t.Fatalf("expected nil, got %s", got.Addr)
	}
}

// --- Weighted Round Robin ---

func TestWRRDistribution(t *testing.T) {
	wrr := NewWeightedRoundRobin([]*Backend{
		{Addr: "A", Weight: 5},
		{Addr: "B", Weight: 1},
		{Addr: "C", Weight: 1},
	})

	counts := map[string]int{}
	for i := 0; i < 700; i++ {
		counts[wrr.Pick(0, 0).Addr]++
	}

	if counts["A"] != 500 || counts["B"] != 100 || counts["C"] != 100 {
		t.Errorf("expected 500/100/100, got A=%d B=%d C=%d",
			counts["A"], counts["B"], counts["C"])
	}
}

func TestWRRSmooth(t *testing.T) {
	// With weights A=2, B=1 the sequence must spread A out: A, B, A —
	// not A, A, B.
	wrr := NewWeightedRoundRobin([]*Backend{
		{Addr: "A", Weight: 2},
		{Addr: "B", Weight: 1},
	})

	got := []string{
		wrr.Pick(0, 0).Addr,
		wrr.Pick(0, 0).Addr,
		wrr.Pick(0, 0).Addr,
	}
	if got[0] != "A" || got[1] != "B" || got[2] != "A" {
		t.Errorf("expected [A B A], got %v", got)
	}
}

func TestWRRDefaultWeight(t *testing.T) {
	wrr := NewWeightedRoundRobin([]*Backend{
		{Addr: "A", Weight: 0},  // defaults to 1
		{Addr: "B", Weight: -1}, // defaults to 1
	})

	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		counts[wrr.Pick(0, 0).Addr]++
	}
	if counts["A"] != 50 || counts["B"] != 50 {
		t.Errorf("expected 50/50, got A=%d B=%d", counts["A"], counts["B"])
	}
}

// --- Least Connections ---

func TestLeastConnPicksLowest(t *testing.T) {
	lc := NewLeastConnections(namedBackends("A", "B", "C"))

	if got := lc.Pick(0, 0); got.Addr != "A" {
		t.Fatalf("expected A, got %s", got.Addr)
	}
	if got := lc.Pick(0, 0); got.Addr != "B" {
		t.Fatalf("expected B, got %s", got.Addr)
	}
	if got := lc.Pick(0, 0); got.Addr != "C" {
		t.Fatalf("expected C, got %s", got.Addr)
	}
}

func TestLeastConnDoneDecrement(t *testing.T) {
	lc := NewLeastConnections(namedBackends("A", "B"))

	a := lc.Pick(0, 0) // A=1
	lc.Pick(0, 0)      // B=1
	lc.Done(a)         // A=0, B=1

	if got := lc.Pick(0, 0); got.Addr != "A" {
		t.Fatalf("expected A after Done, got %s", got.Addr)
	}
}

func TestLeastConnRebuildKeepsCounts(t *testing.T) {
	lc := NewLeastConnections(namedBackends("A", "B"))
	lc.Pick(0, 0) // A=1
	lc.Pick(0, 0) // B=1
	lc.Pick(0, 0) // tie goes to the first entry: A=2

	// Drop B; A keeps its in-flight count of 2.
	if err := lc.Rebuild(namedBackends("A", "C")); err != nil {
		t.Fatal(err)
	}
	if got := lc.Pick(0, 0); got.Addr != "C" {
		t.Fatalf("expected fresh backend C, got %s", got.Addr)
	}
}

// --- Ring Hash ---

func ringHashConfig() ringhash.Config {
	return ringhash.Config{MinRingSize: 1024, MaxRingSize: 8 * 1024 * 1024}
}

func TestRingHashStableForSameKey(t *testing.T) {
	rh, err := NewRingHash(ringHashConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rh.Rebuild(namedBackends("A", "B", "C")); err != nil {
		t.Fatal(err)
	}

	h := xxhash.Sum64String("user-123")
	first := rh.Pick(h, 0)
	for i := 0; i < 100; i++ {
		if got := rh.Pick(h, 0); got != first {
			t.Fatalf("key mapped to %s then %s", first.Addr, got.Addr)
		}
	}
}

func TestRingHashDistribution(t *testing.T) {
	rh, err := NewRingHash(ringHashConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rh.Rebuild(namedBackends("A", "B", "C")); err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		h := xxhash.Sum64String(fmt.Sprintf("key-%d", i))
		counts[rh.Pick(h, 0).Addr]++
	}

	// Each backend should get roughly a third; allow 25% deviation.
	for _, addr := range []string{"A", "B", "C"} {
		deviation := math.Abs(float64(counts[addr])-1000) / 1000
		if deviation > 0.25 {
			t.Errorf("%s: got %d (%.0f%% deviation)", addr, counts[addr], deviation*100)
		}
	}
}

func TestRingHashWeightSkew(t *testing.T) {
	rh, err := NewRingHash(ringHashConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = rh.Rebuild([]*Backend{
		{Addr: "big", Weight: 3},
		{Addr: "small", Weight: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		h := xxhash.Sum64String(fmt.Sprintf("key-%d", i))
		counts[rh.Pick(h, 0).Addr]++
	}

	ratio := float64(counts["big"]) / float64(counts["small"])
	if ratio < 2.0 || ratio > 4.5 {
		t.Errorf("big/small traffic ratio %.2f, want around 3", ratio)
	}
}

func TestRingHashMinimalRemapping(t *testing.T) {
	build := func(names ...string) *RingHash {
		rh, err := NewRingHash(ringHashConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := rh.Rebuild(namedBackends(names...)); err != nil {
			t.Fatal(err)
		}
		return rh
	}
	rh3 := build("A", "B", "C")
	rh4 := build("A", "B", "C", "D")

	remapped := 0
	const total = 1000
	for i := 0; i < total; i++ {
		h := xxhash.Sum64String(fmt.Sprintf("key-%d", i))
		if rh3.Pick(h, 0).Addr != rh4.Pick(h, 0).Addr {
			remapped++
		}
	}

	// Adding one backend to three should remap about a quarter of keys.
	if ratio := float64(remapped) / total; ratio > 0.50 {
		t.Errorf("%.0f%% of keys remapped when adding a backend", ratio*100)
	}
}

func TestRingHashEmptyPool(t *testing.T) {
	rh, err := NewRingHash(ringHashConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := rh.Pick(42, 0); got != nil {
		t.Fatalf("expected nil from empty ring, got %s", got.Addr)
	}

	if err := rh.Rebuild(namedBackends("A")); err != nil {
		t.Fatal(err)
	}
	if got := rh.Pick(42, 0); got == nil || got.Addr != "A" {
		t.Fatal("expected A after rebuild")
	}

	if err := rh.Rebuild(nil); err != nil {
		t.Fatal(err)
	}
	if got := rh.Pick(42, 0); got != nil {
		t.Fatalf("expected nil after draining pool, got %s", got.Addr)
	}
}

func TestRingHashRejectsBadBounds(t *testing.T) {
	_, err := NewRingHash(ringhash.Config{MinRingSize: 10, MaxRingSize: 5}, nil)
	if err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestRingHashConcurrentPickAndRebuild(t *testing.T) {
	rh, err := NewRingHash(ringhash.Config{MinRingSize: 64, MaxRingSize: 128}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rh.Rebuild(namedBackends("A", "B")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				rh.Pick(uint64(n*1000+j), uint32(j%3))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sets := [][]*Backend{
			namedBackends("A", "B"),
			namedBackends("A", "B", "C"),
			namedBackends("B", "C"),
		}
		for j := 0; j < 30; j++ {
			if err := rh.Rebuild(sets[j%len(sets)]); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()
}
