package app

import (
	"context"
	"strings"

	"pawrelay/internal/config"
	logx "pawrelay/pkg/logx"
)

// startReload applies published configs to the live components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("keys", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.queue.SetMaxConcurrent(newCfg.Dispatch.MaxConcurrent)
	a.hist.Resize(newCfg.History.Capacity)
	a.relay.SetRate(newCfg.Relay.RatePerSec)
	a.status.Reconfigure(ctx, mapStatusConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
