package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pawrelay/internal/eventbus"
	"pawrelay/internal/storage"
	logx "pawrelay/pkg/logx"
)

// relayRecord converts a relay event into a journal record. ok is false for
// events that are not relay outcomes.
func relayRecord(e eventbus.Event) (storage.RelayRecord, bool) {
	out, isOutcome := e.Data.(eventbus.RelayOutcome)
	if !isOutcome {
		return storage.RelayRecord{}, false
	}
	switch e.Type {
	case eventbus.TypeRelaySucceeded, eventbus.TypeRelayFailed:
	default:
		return storage.RelayRecord{}, false
	}
	return storage.RelayRecord{
		At:       e.Time,
		AvatarID: out.AvatarID,
		OK:       e.Type == eventbus.TypeRelaySucceeded,
		Status:   out.Status,
		Error:    out.Err,
		TookMS:   out.Took.Milliseconds(),
	}, true
}

// runJournal writes relay outcomes from events into store until events is
// closed. It does not stop on ctx so outcomes of relays that finish during
// shutdown are still recorded.
func runJournal(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for e := range events {
		if e.Type == eventbus.TypeAvatarEnqueued {
			log.Trace("event", logx.String("type", e.Type), logx.Any("ids", e.Data))
			continue
		}
		r, ok := relayRecord(e)
		if !ok || store == nil {
			continue
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := store.AppendRelay(wctx, r); err != nil {
			log.Warn("journal append failed", logx.String("avatar_id", r.AvatarID), logx.Err(err))
		}
		cancel()
	}
}

// startPruner schedules journal pruning. It returns a stop func that waits for a
// running prune to finish.
func startPruner(ctx context.Context, store storage.Store, js journalSettings, log logx.Logger) (func(), error) {
	if store == nil || js.retention <= 0 {
		return func() {}, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(js.schedule, func() {
		before := time.Now().Add(-js.retention)
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n, err := store.Prune(pctx, before)
		if err != nil {
			log.Warn("journal prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			log.Info("journal pruned", logx.Int("removed", n), logx.Time("before", before))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Debug("journal pruning scheduled", logx.String("schedule", js.schedule), logx.Duration("retention", js.retention))
	return func() { <-c.Stop().Done() }, nil
}
