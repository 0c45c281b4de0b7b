package sync

import (
	"context"
	"log/slog"
	"time"
)

const defaultProbeInterval = 30 * time.Second

// Watcher polls the reachability probe and reports connectivity edges to
// the policy and the bus. It only speaks up when the verdict flips.
type Watcher struct {
	probe    Prober
	policy   *AutoSync
	bus      *Bus
	logger   *slog.Logger
	interval time.Duration

	known  bool
	online bool
}

// NewWatcher builds a watcher polling at the given interval.
// A non-positive interval falls back to the default.
func NewWatcher(probe Prober, policy *AutoSync, bus *Bus, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Watcher{
		probe:    probe,
		policy:   policy,
		bus:      bus,
		logger:   logger,
		interval: interval,
	}
}

// Prime seeds the watcher with a verdict already obtained elsewhere, so
// the first tick does not re-report it as an edge.
func (w *Watcher) Prime(online bool) {
	w.known = true
	w.online = online
}

// Run probes immediately, then on every tick, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	check := func() {
		res := w.probe.Check(ctx)
		if w.known && res.Reachable == w.online {
			return
		}
		w.known = true
		w.online = res.Reachable

		if w.online {
			w.logger.Info("server reachable", "latency", res.Latency.Round(time.Millisecond))
		} else {
			w.logger.Warn("server unreachable", "error", res.Err)
		}
		w.bus.Publish(Event{Kind: EventConnectivity, Online: w.online})
		w.policy.OnConnectivityChange(ctx, w.online)
	}

	if !w.known {
		check()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
