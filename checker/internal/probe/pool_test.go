package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeMeasurer struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	panicOn  string
}

func (f *fakeMeasurer) Probe(_ context.Context, id, url string) Result {
	if id == f.panicOn {
		panic("boom")
	}
	n := f.inFlight.Add(1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.inFlight.Add(-1)
	size := int64(len(id))
	return Result{ResourceID: id, URL: url, Size: &size}
}

func targets(n int) map[string]string {
	m := make(map[string]string, n)
	for i := range n {
		id := fmt.Sprintf("res-%02d", i)
		m[id] = "http://example.invalid/" + id
	}
	return m
}

func TestProbeAll_BoundedConcurrency(t *testing.T) {
	// WHAT: 37 targets with 10 workers never exceed 10 in flight.
	// WHY: Resource hosts are small government servers.
	f := &fakeMeasurer{delay: 5 * time.Millisecond}
	p := NewPool(f, PoolConfig{Workers: 10, Pacing: time.Millisecond}, nil)

	var mu sync.Mutex
	var calls, lastDone int
	results, err := p.ProbeAll(context.Background(), targets(37), func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if total != 37 {
			t.Errorf("total: got %d", total)
		}
		if done > lastDone {
			lastDone = done
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 37 {
		t.Fatalf("results: got %d, want 37", len(results))
	}
	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.ResourceID] = true
	}
	if len(seen) != 37 {
		t.Errorf("distinct ids: got %d", len(seen))
	}
	if m := f.maxSeen.Load(); m > 10 {
		t.Errorf("max in flight: got %d, want <= 10", m)
	}
	if calls != 37 || lastDone != 37 {
		t.Errorf("progress: calls=%d lastDone=%d", calls, lastDone)
	}
}

func TestProbeAll_Empty(t *testing.T) {
	p := NewPool(&fakeMeasurer{}, PoolConfig{}, nil)
	results, err := p.ProbeAll(context.Background(), nil, nil)
	if err != nil || len(results) != 0 {
		t.Errorf("got %v, %v", results, err)
	}
}

func TestProbeAll_CancelledBeforeStart(t *testing.T) {
	// WHAT: A cancelled context schedules nothing and reports the cause.
	// WHY: Shutdown must not start new probes.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPool(&fakeMeasurer{}, PoolConfig{}, nil)
	results, err := p.ProbeAll(ctx, targets(5), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v, want context.Canceled", err)
	}
	if len(results) != 0 {
		t.Errorf("results: got %d, want 0", len(results))
	}
}

func TestProbeAll_WorkerPanic(t *testing.T) {
	// WHAT: A panicking measurer surfaces as a batch error.
	// WHY: Internal faults are the only batch-level failure.
	f := &fakeMeasurer{panicOn: "res-02"}
	p := NewPool(f, PoolConfig{Workers: 2, Pacing: time.Millisecond}, nil)
	results, err := p.ProbeAll(context.Background(), targets(4), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(results) != 3 {
		t.Errorf("results: got %d, want 3", len(results))
	}
}

type gateMeasurer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gateMeasurer) Probe(_ context.Context, id, url string) Result {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	return Result{ResourceID: id, URL: url}
}

func TestProbeAll_CancelWhileWaitingForSlot(t *testing.T) {
	// WHAT: Items queued behind a busy worker are not measured once the
	// context is cancelled.
	// WHY: Shutdown must stop scheduling even when cancellation lands while
	// the scheduler waits for a free slot.
	g := &gateMeasurer{started: make(chan struct{}), release: make(chan struct{})}
	p := NewPool(g, PoolConfig{Workers: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	type out struct {
		results []Result
		err     error
	}
	done := make(chan out, 1)
	go func() {
		results, err := p.ProbeAll(ctx, targets(5), nil)
		done <- out{results, err}
	}()

	<-g.started
	cancel()
	close(g.release)

	res := <-done
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("err: got %v, want context.Canceled", res.err)
	}
	if n := g.calls.Load(); n != 1 {
		t.Errorf("measured: got %d, want 1", n)
	}
	if len(res.results) != 1 {
		t.Errorf("results: got %d, want 1", len(res.results))
	}
}

func TestPoolConfig_ZeroPacingIsKept(t *testing.T) {
	// WHAT: Pacing 0 disables the pause; only negative values use the default.
	// WHY: Local mirrors need no politeness delay.
	p := NewPool(&fakeMeasurer{}, PoolConfig{Workers: 1}, nil)
	if p.config.Pacing != 0 {
		t.Errorf("pacing: got %v, want 0", p.config.Pacing)
	}
	p = NewPool(&fakeMeasurer{}, PoolConfig{Pacing: -1}, nil)
	if p.config.Pacing != DefaultPacing || p.config.Workers != DefaultWorkers {
		t.Errorf("defaults: got %+v", p.config)
	}

	start := time.Now()
	if _, err := NewPool(&fakeMeasurer{}, PoolConfig{Workers: 1}, nil).ProbeAll(context.Background(), targets(20), nil); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("20 unpaced items took %v", elapsed)
	}
}
