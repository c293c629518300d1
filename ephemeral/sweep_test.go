package ephemeral

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSweeperRunsImmediatelyThenTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	remaining := int64(3)
	sweep := func(_ context.Context, _ time.Time) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		n := remaining
		remaining = 0 // later sweeps find nothing; deleting again must be fine
		return n, nil
	}

	done := make(chan struct{})
	go func() {
		StartSweeper(ctx, "test", 10*time.Millisecond, time.Second, sweep)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper ran %d times, want at least 3", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}

func TestSweeperDisabledWithoutInterval(t *testing.T) {
	called := false
	sweep := func(_ context.Context, _ time.Time) (int64, error) {
		called = true
		return 0, nil
	}

	// Returns immediately when interval or retention is unset.
	StartSweeper(context.Background(), "test", 0, time.Second, sweep)
	StartSweeper(context.Background(), "test", time.Second, 0, sweep)
	if called {
		t.Error("disabled sweeper must not invoke the sweep func")
	}
}

func TestSweeperCutoffUsesRetention(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan time.Time, 1)
	sweep := func(_ context.Context, cutoff time.Time) (int64, error) {
		select {
		case got <- cutoff:
		default:
		}
		return 0, nil
	}

	start := time.Now()
	go StartSweeper(ctx, "test", time.Minute, 5*time.Second, sweep)
	defer cancel()

	select {
	case cutoff := <-got:
		age := start.Sub(cutoff)
		if age < 4*time.Second || age > 6*time.Second {
			t.Errorf("cutoff is %v old, want about the 5s retention", age)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}
}
