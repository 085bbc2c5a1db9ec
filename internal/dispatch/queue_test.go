package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pawrelay/internal/avatarid"
	"pawrelay/internal/eventbus"
	"pawrelay/internal/history"
	logx "pawrelay/pkg/logx"
)

// gatedRelayer blocks every call until release is signalled, and records the
// batches it observes through the in-flight count.
type gatedRelayer struct {
	release chan struct{}
	fail    map[avatarid.ID]bool

	mu       sync.Mutex
	inflight int
	maxSeen  int
	calls    map[avatarid.ID]int
	order    []avatarid.ID
}

func newGated(buffer int) *gatedRelayer {
	return &gatedRelayer{
		release: make(chan struct{}, buffer),
		fail:    map[avatarid.ID]bool{},
		calls:   map[avatarid.ID]int{},
	}
}

func (g *gatedRelayer) Relay(ctx context.Context, id avatarid.ID) error {
	g.mu.Lock()
	g.inflight++
	g.maxSeen = max(g.maxSeen, g.inflight)
	g.calls[id]++
	g.order = append(g.order, id)
	g.mu.Unlock()

	<-g.release

	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()
	if g.fail[id] {
		return errors.New("remote said no")
	}
	return nil
}

func (g *gatedRelayer) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

func (g *gatedRelayer) snapshot() (maxSeen int, calls map[avatarid.ID]int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[avatarid.ID]int, len(g.calls))
	for k, v := range g.calls {
		out[k] = v
	}
	return g.maxSeen, out
}

func testIDs(n int) []avatarid.ID {
	out := make([]avatarid.ID, n)
	for i := range out {
		out[i] = avatarid.ID(fmt.Sprintf("avtr_%08x-0000-1111-2222-333344445555", i+1))
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBatchesOfThree(t *testing.T) {
	rel := newGated(16)
	hist := history.New(0)
	q := New(Config{MaxConcurrent: 3}, rel, hist, logx.Nop(), nil)

	ids := testIDs(7)
	added, err := q.Enqueue(ids...)
	if err != nil || added != 7 {
		t.Fatalf("Enqueue = %d, %v; want 7, nil", added, err)
	}

	for _, want := range []int{3, 3, 1} {
		waitFor(t, fmt.Sprintf("batch of %d", want), func() bool { return rel.inFlight() == want })
		// The next batch must not start while this one is unreleased.
		time.Sleep(20 * time.Millisecond)
		if got := rel.inFlight(); got != want {
			t.Fatalf("in flight = %d, want %d", got, want)
		}
		if got := q.Stats().InFlight; got != want {
			t.Fatalf("Stats.InFlight = %d, want %d", got, want)
		}
		for range want {
			rel.release <- struct{}{}
		}
	}

	waitFor(t, "drain loop exit", func() bool { return !q.Stats().Draining })
	st := q.Stats()
	if st.Succeeded != 7 || st.Failed != 0 || st.DrainLoops != 1 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if hist.Len() != 7 {
		t.Fatalf("history len = %d, want 7", hist.Len())
	}
	// FIFO: the first batch holds the first three ids.
	rel.mu.Lock()
	first := append([]avatarid.ID(nil), rel.order[:3]...)
	rel.mu.Unlock()
	seen := map[avatarid.ID]bool{}
	for _, id := range first {
		seen[id] = true
	}
	for _, id := range ids[:3] {
		if !seen[id] {
			t.Fatalf("first batch %v does not contain %s", first, id)
		}
	}
}

func TestEnqueueSkipsPendingDuplicates(t *testing.T) {
	rel := newGated(16)
	q := New(Config{MaxConcurrent: 1}, rel, history.New(0), logx.Nop(), nil)
	ids := testIDs(3)

	if _, err := q.Enqueue(ids[0]); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "first relay", func() bool { return rel.inFlight() == 1 })

	added, _ := q.Enqueue(ids[1], ids[2], ids[1], ids[2])
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	pending := q.Pending()
	if len(pending) != 2 || pending[0] != ids[1] || pending[1] != ids[2] {
		t.Fatalf("pending = %v", pending)
	}
	if st := q.Stats(); st.Duplicates != 2 {
		t.Fatalf("duplicates = %d, want 2", st.Duplicates)
	}

	for range 3 {
		rel.release <- struct{}{}
	}
	waitFor(t, "drain", func() bool { return !q.Stats().Draining })

	// An id that already left the queue may be enqueued again.
	if added, _ := q.Enqueue(ids[0]); added != 1 {
		t.Fatalf("re-enqueue added = %d, want 1", added)
	}
	rel.release <- struct{}{}
	waitFor(t, "second drain", func() bool { return !q.Stats().Draining })
	if _, calls := rel.snapshot(); calls[ids[0]] != 2 {
		t.Fatalf("calls for %s = %d, want 2", ids[0], calls[ids[0]])
	}
}

func TestConcurrentEnqueueSingleDrainLoop(t *testing.T) {
	rel := newGated(1024)
	for range 1024 {
		rel.release <- struct{}{}
	}
	hist := history.New(0)
	q := New(Config{MaxConcurrent: 3}, rel, hist, logx.Nop(), nil)

	const callers, perCaller = 16, 20
	all := testIDs(callers * perCaller)
	var wg sync.WaitGroup
	for c := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range all[c*perCaller : (c+1)*perCaller] {
				if _, err := q.Enqueue(id); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	waitFor(t, "all relays", func() bool {
		st := q.Stats()
		return !st.Draining && st.Pending == 0 && st.Succeeded == uint64(len(all))
	})
	maxSeen, calls := rel.snapshot()
	if maxSeen > 3 {
		t.Fatalf("max in flight = %d, want <= 3", maxSeen)
	}
	for _, id := range all {
		if calls[id] != 1 {
			t.Fatalf("calls for %s = %d, want 1", id, calls[id])
		}
	}
	if hist.Len() != len(all) {
		t.Fatalf("history len = %d, want %d", hist.Len(), len(all))
	}
	if got := pendingGauge(t); got != 0 {
		t.Fatalf("pending gauge = %v after drain, want 0", got)
	}
}

func pendingGauge(t *testing.T) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "pawrelay_dispatch_pending" && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("pawrelay_dispatch_pending not registered")
	return 0
}

func TestFailedRelayIsNotRecordedOrRetried(t *testing.T) {
	rel := newGated(4)
	ids := testIDs(2)
	rel.fail[ids[0]] = true
	hist := history.New(0)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	q := New(Config{}, rel, hist, logx.Nop(), bus)
	q.Enqueue(ids...)
	rel.release <- struct{}{}
	rel.release <- struct{}{}
	waitFor(t, "drain", func() bool { return !q.Stats().Draining })

	if hist.Contains(ids[0]) {
		t.Fatal("failed id landed in history")
	}
	if !hist.Contains(ids[1]) {
		t.Fatal("successful id missing from history")
	}
	if _, calls := rel.snapshot(); calls[ids[0]] != 1 {
		t.Fatalf("failed id relayed %d times, want 1", calls[ids[0]])
	}
	st := q.Stats()
	if st.Failed != 1 || st.Succeeded != 1 {
		t.Fatalf("stats = %+v", st)
	}

	var failed, ok int
	timeout := time.After(time.Second)
	for failed+ok < 2 {
		select {
		case ev := <-events:
			switch ev.Type {
			case eventbus.TypeRelayFailed:
				failed++
				out := ev.Data.(eventbus.RelayOutcome)
				if out.AvatarID != ids[0].String() || out.Err == "" {
					t.Fatalf("failure event = %+v", out)
				}
			case eventbus.TypeRelaySucceeded:
				ok++
			}
		case <-timeout:
			t.Fatalf("got %d failed and %d succeeded events", failed, ok)
		}
	}
}

func TestStopRejectsEnqueue(t *testing.T) {
	rel := newGated(4)
	q := New(Config{MaxConcurrent: 1}, rel, history.New(0), logx.Nop(), nil)
	ids := testIDs(3)
	q.Enqueue(ids...)
	waitFor(t, "first relay", func() bool { return rel.inFlight() == 1 })

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(context.Background()) }()

	// Stop waits for the in-flight request rather than cancelling it.
	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v before in-flight relay finished", err)
	case <-time.After(30 * time.Millisecond):
	}
	rel.release <- struct{}{}
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := q.Enqueue(testIDs(4)[3]); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop err = %v, want ErrStopped", err)
	}
	if got := len(q.Pending()); got != 2 {
		t.Fatalf("pending after Stop = %d, want 2", got)
	}
}

func TestStopHonorsContext(t *testing.T) {
	rel := newGated(1)
	q := New(Config{}, rel, history.New(0), logx.Nop(), nil)
	q.Enqueue(testIDs(1)...)
	waitFor(t, "relay", func() bool { return rel.inFlight() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop err = %v, want deadline exceeded", err)
	}
	rel.release <- struct{}{}
}

func TestSetMaxConcurrent(t *testing.T) {
	q := New(Config{}, newGated(0), nil, logx.Nop(), nil)
	if got := q.Stats().MaxConcurrent; got != DefaultMaxConcurrent {
		t.Fatalf("default max = %d", got)
	}
	q.SetMaxConcurrent(8)
	if got := q.Stats().MaxConcurrent; got != 8 {
		t.Fatalf("max = %d, want 8", got)
	}
	q.SetMaxConcurrent(-1)
	if got := q.Stats().MaxConcurrent; got != DefaultMaxConcurrent {
		t.Fatalf("max after -1 = %d", got)
	}
}
