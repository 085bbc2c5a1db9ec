// Package dispatch holds pending avatar ids and relays them with bounded concurrency.
//
// The queue and the "drain loop active" flag live under one mutex. Enqueue starts a
// drain loop only when none is active; the loop clears the flag under the same mutex
// when it observes the queue empty, so an id enqueued at that moment either lands in
// the loop's next batch or starts a fresh loop. It is never stranded.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pawrelay/internal/avatarid"
	"pawrelay/internal/eventbus"
	"pawrelay/internal/metrics"
	"pawrelay/internal/relay"
	logx "pawrelay/pkg/logx"
)

// DefaultMaxConcurrent caps in-flight relay requests when no limit is configured.
const DefaultMaxConcurrent = 3

var ErrStopped = errors.New("dispatch queue stopped")

// Relayer delivers one id. A nil error means the remote API confirmed it.
type Relayer interface {
	Relay(ctx context.Context, id avatarid.ID) error
}

// Recorder stores confirmed ids.
type Recorder interface {
	Append(id avatarid.ID) bool
}

type Config struct {
	MaxConcurrent int
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending       int    `json:"pending"`
	Draining      bool   `json:"draining"`
	InFlight      int    `json:"in_flight"`
	MaxConcurrent int    `json:"max_concurrent"`
	Enqueued      uint64 `json:"enqueued"`
	Duplicates    uint64 `json:"duplicates"`
	Succeeded     uint64 `json:"succeeded"`
	Failed        uint64 `json:"failed"`
	DrainLoops    uint64 `json:"drain_loops"`
}

type Queue struct {
	relayer Relayer
	history Recorder
	log     logx.Logger
	bus     eventbus.Bus

	mu       sync.Mutex
	pending  []avatarid.ID
	members  map[avatarid.ID]struct{}
	draining bool
	stopped  bool
	maxConc  int
	runCtx   context.Context
	loops    sync.WaitGroup

	// guarded by mu
	stats Stats
}

func New(cfg Config, relayer Relayer, history Recorder, log logx.Logger, bus eventbus.Bus) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	q := &Queue{
		relayer: relayer,
		history: history,
		log:     log,
		bus:     bus,
		members: make(map[avatarid.ID]struct{}),
		runCtx:  context.Background(),
	}
	q.maxConc = normalizeMax(cfg.MaxConcurrent)
	return q
}

func normalizeMax(n int) int {
	if n <= 0 {
		return DefaultMaxConcurrent
	}
	return n
}

// Start sets the context drain loops run under. Loops stop pulling new batches once
// it is done; requests already in flight still run to completion.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.runCtx = ctx
	q.stopped = false
	q.mu.Unlock()
}

// SetMaxConcurrent changes the batch size. It takes effect from the next batch.
func (q *Queue) SetMaxConcurrent(n int) {
	q.mu.Lock()
	q.maxConc = normalizeMax(n)
	q.mu.Unlock()
}

// Enqueue appends ids that are not already pending and makes sure a drain loop is
// running. It returns how many ids were added. Safe for concurrent callers.
func (q *Queue) Enqueue(ids ...avatarid.ID) (int, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return 0, ErrStopped
	}
	var fresh []avatarid.ID
	for _, id := range ids {
		if _, dup := q.members[id]; dup {
			continue
		}
		q.members[id] = struct{}{}
		q.pending = append(q.pending, id)
		fresh = append(fresh, id)
	}
	added := len(fresh)
	dup := len(ids) - added
	q.stats.Enqueued += uint64(added)
	q.stats.Duplicates += uint64(dup)
	depth := len(q.pending)
	// set under mu so a concurrent next() cannot be overwritten with a stale depth
	metrics.SetPending(depth)

	start := !q.draining && depth > 0
	if start {
		q.draining = true
		q.stats.DrainLoops++
		q.loops.Add(1)
	}
	ctx := q.runCtx
	q.mu.Unlock()

	metrics.RecordEnqueue(added, dup)
	if added > 0 {
		q.bus.Publish(eventbus.Event{Type: eventbus.TypeAvatarEnqueued, Data: fresh})
	}
	if start {
		metrics.RecordDrainLoop()
		go q.drain(ctx)
	}
	return added, nil
}

// next removes the next batch, or clears the draining flag and returns nil when the
// queue is empty, the queue is stopped or the run context is done.
func (q *Queue) next(ctx context.Context) []avatarid.ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.stopped || ctx.Err() != nil {
		q.draining = false
		return nil
	}
	n := min(q.maxConc, len(q.pending))
	batch := make([]avatarid.ID, n)
	copy(batch, q.pending[:n])
	for _, id := range batch {
		delete(q.members, id)
	}
	rest := copy(q.pending, q.pending[n:])
	clear(q.pending[rest:])
	q.pending = q.pending[:rest]
	q.stats.InFlight = n
	metrics.SetPending(rest)
	return batch
}

func (q *Queue) drain(ctx context.Context) {
	defer q.loops.Done()
	// In-flight relays are never cancelled; shutdown only stops new batches.
	relayCtx := context.WithoutCancel(ctx)
	for {
		batch := q.next(ctx)
		if batch == nil {
			return
		}
		var g errgroup.Group
		for _, id := range batch {
			g.Go(func() error {
				q.relayOne(relayCtx, id)
				return nil
			})
		}
		_ = g.Wait()

		q.mu.Lock()
		q.stats.InFlight = 0
		q.mu.Unlock()
	}
}

func (q *Queue) relayOne(ctx context.Context, id avatarid.ID) {
	metrics.RelayStarted()
	start := time.Now()
	err := q.relayer.Relay(ctx, id)
	took := time.Since(start)
	metrics.RelayFinished()

	out := eventbus.RelayOutcome{AvatarID: id.String(), Status: relay.StatusCode(err), Took: took}
	if err != nil {
		result := metrics.ResultError
		if out.Status != 0 {
			result = metrics.ResultStatus
		}
		metrics.RecordRelay(result, took)
		out.Err = err.Error()
		q.mu.Lock()
		q.stats.Failed++
		q.mu.Unlock()
		q.log.Warn("relay failed", logx.String("avatar_id", id.String()), logx.Int("status", out.Status), logx.Duration("took", took), logx.Err(err))
		q.bus.Publish(eventbus.Event{Type: eventbus.TypeRelayFailed, Data: out})
		return
	}

	metrics.RecordRelay(metrics.ResultSuccess, took)
	if q.history != nil {
		q.history.Append(id)
	}
	q.mu.Lock()
	q.stats.Succeeded++
	q.mu.Unlock()
	q.log.Debug("relay ok", logx.String("avatar_id", id.String()), logx.Duration("took", took))
	q.bus.Publish(eventbus.Event{Type: eventbus.TypeRelaySucceeded, Data: out})
}

// Pending returns the ids waiting for dispatch, oldest first.
func (q *Queue) Pending() []avatarid.ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]avatarid.ID, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	s.Draining = q.draining
	s.MaxConcurrent = q.maxConc
	return s
}

// Stop rejects further enqueues and waits for the active drain loop to finish its
// current batch. Pending ids are left in place.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
