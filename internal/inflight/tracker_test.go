package inflight

import (
	"fmt"
	"sync"
	"testing"
)

func TestTracker_MarkAndClear(t *testing.T) {
	tr := New()

	tr.Mark("a", "b")
	if !tr.IsInFlight("a") || !tr.IsInFlight("b") {
		t.Fatal("marked keys should be in flight")
	}
	if tr.IsInFlight("c") {
		t.Error("unmarked key reported in flight")
	}

	tr.Clear("a", "missing")
	if tr.IsInFlight("a") {
		t.Error("cleared key still in flight")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}

	tr.ClearAll()
	if tr.Len() != 0 || tr.IsInFlight("b") {
		t.Error("ClearAll left keys behind")
	}
}

func TestTracker_MarkTwiceIsIdempotent(t *testing.T) {
	tr := New()
	tr.Mark("a")
	tr.Mark("a")
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
	tr.Clear("a")
	if tr.IsInFlight("a") {
		t.Error("single Clear should remove a key marked twice")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			tr.Mark(key)
			_ = tr.IsInFlight(key)
			tr.Clear(key)
		}(i)
	}
	wg.Wait()
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after concurrent mark/clear, want 0", tr.Len())
	}
}
