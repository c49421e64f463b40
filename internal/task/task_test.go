package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetRunsOnce(t *testing.T) {
	var h Handle[int]
	var calls int32

	const n = 20
	var wg sync.WaitGroup
	results := make([]int, n)
	wg.Add(n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			v, err := h.Get(context.Background(), func(context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = v
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("compute ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("results[%d] = %d, want 42", i, v)
		}
	}
}

func TestGetCachesErrors(t *testing.T) {
	var h Handle[int]
	wantErr := errors.New("boom")
	var calls int32
	compute := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, wantErr
	}

	for i := 0; i < 3; i++ {
		_, err := h.Get(context.Background(), compute)
		if !errors.Is(err, wantErr) {
			t.Fatalf("call %d: Get() err = %v, want %v", i, err, wantErr)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("compute ran %d times, want 1", got)
	}
}

func TestDoneBeforeAndAfter(t *testing.T) {
	var h Handle[int]
	if h.Done() {
		t.Fatal("Done() = true before Get was ever called")
	}

	release := make(chan struct{})
	go h.Get(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	// Give the goroutine a chance to register as started.
	deadline := time.After(time.Second)
	for !func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.started
	}() {
		select {
		case <-deadline:
			t.Fatal("computation never started")
		default:
		}
	}
	if h.Done() {
		t.Fatal("Done() = true while computation is still in flight")
	}
	close(release)

	v, err, ok := waitForDone(t, &h)
	if !ok || err != nil || v != 1 {
		t.Fatalf("Peek() = %v, %v, %v; want 1, nil, true", v, err, ok)
	}
}

func waitForDone(t *testing.T, h *Handle[int]) (int, error, bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if v, err, ok := h.Peek(); ok {
			return v, err, ok
		}
		select {
		case <-deadline:
			t.Fatal("computation never completed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestGetRespectsCallerContextWithoutCancelingComputation(t *testing.T) {
	var h Handle[int]
	release := make(chan struct{})

	go h.Get(context.Background(), func(context.Context) (int, error) {
		<-release
		return 7, nil
	})

	// Wait until the goroutine above owns the computation, so the
	// cancelled call below joins it instead of starting its own.
	deadline := time.After(time.Second)
	for !func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.started
	}() {
		select {
		case <-deadline:
			t.Fatal("computation never started")
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Get(ctx, func(context.Context) (int, error) {
		t.Fatal("compute should not run a second time")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Get() err = %v, want context.Canceled", err)
	}

	close(release)
	v, err, ok := waitForDone(t, &h)
	if !ok || err != nil || v != 7 {
		t.Fatalf("original computation result = %v, %v, %v; want 7, nil, true", v, err, ok)
	}
}
