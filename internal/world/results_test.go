package world

import (
	"sync"
	"testing"
)

func TestResultsUpdateAccumulates(t *testing.T) {
	t.Parallel()

	r := NewResults(Size{Width: 4, Height: 4})
	r.Update(0, 10, true, true)
	r.Update(0, 20, true, false)
	r.Update(0, 5, false, false)

	trials, sumSteps, successLEQK := r.Snapshot()
	if trials[0] != 3 {
		t.Errorf("trials[0] = %d, want 3", trials[0])
	}
	if sumSteps[0] != 30 {
		t.Errorf("sumSteps[0] = %d, want 30 (only origin-reaching walks count)", sumSteps[0])
	}
	if successLEQK[0] != 1 {
		t.Errorf("successLEQK[0] = %d, want 1", successLEQK[0])
	}
}

func TestResultsUpdateOutOfRangeIgnored(t *testing.T) {
	t.Parallel()

	r := NewResults(Size{Width: 2, Height: 2})
	r.Update(999, 10, true, true) // must not panic or corrupt state
	trials, _, _ := r.Snapshot()
	for i, v := range trials {
		if v != 0 {
			t.Errorf("trials[%d] = %d, want 0", i, v)
		}
	}
}

func TestResultsClearZeroesAll(t *testing.T) {
	t.Parallel()

	r := NewResults(Size{Width: 2, Height: 2})
	r.Update(0, 10, true, true)
	r.Clear()

	trials, sumSteps, successLEQK := r.Snapshot()
	for i := range trials {
		if trials[i] != 0 || sumSteps[i] != 0 || successLEQK[i] != 0 {
			t.Fatalf("cell %d not cleared: trials=%d sumSteps=%d successLEQK=%d", i, trials[i], sumSteps[i], successLEQK[i])
		}
	}
}

func TestResultsUpdateConcurrentSafe(t *testing.T) {
	t.Parallel()

	r := NewResults(Size{Width: 1, Height: 1})
	var wg sync.WaitGroup
	const n = 1000
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update(0, 1, true, true)
		}()
	}
	wg.Wait()

	trials, sumSteps, successLEQK := r.Snapshot()
	if trials[0] != n {
		t.Errorf("trials[0] = %d, want %d", trials[0], n)
	}
	if sumSteps[0] != n {
		t.Errorf("sumSteps[0] = %d, want %d", sumSteps[0], n)
	}
	if successLEQK[0] != n {
		t.Errorf("successLEQK[0] = %d, want %d", successLEQK[0], n)
	}
}
