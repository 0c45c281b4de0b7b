package sync

import (
	"context"
	"log/slog"
	"time"
)

// Engine ties the runner, the trigger policy and the reachability watcher
// together into the long-running daemon.
type Engine struct {
	runner  *Runner
	policy  *AutoSync
	watcher *Watcher
	bus     *Bus
	probe   Prober
	logger  *slog.Logger
}

// EngineConfig carries the tunables the daemon reads from its config file.
type EngineConfig struct {
	ProbeInterval  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewEngine wires up a full engine. probe may be nil when no server is
// configured; the watcher is then skipped and runs report SkipSettings
// through the nil api anyway.
func NewEngine(store Store, api Submitter, files FileStore, probe Prober, cfg EngineConfig, logger *slog.Logger) *Engine {
	bus := NewBus()
	runner := NewRunner(store, api, files, bus, logger)
	policy := NewAutoSync(runner, NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff), logger)

	e := &Engine{
		runner: runner,
		policy: policy,
		bus:    bus,
		probe:  probe,
		logger: logger,
	}
	if probe != nil {
		e.watcher = NewWatcher(probe, policy, bus, cfg.ProbeInterval, logger)
	}
	return e
}

// Bus exposes the event stream for status consumers.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Policy exposes the trigger surface for the embedding layer (enqueue,
// foreground).
func (e *Engine) Policy() *AutoSync {
	return e.policy
}

// Run starts the daemon and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("sync engine starting")

	if e.probe != nil {
		// Probe once before the startup sync so it sees an honest
		// verdict instead of the assumed-offline default.
		online := e.probe.Check(ctx).Reachable
		e.policy.SetOnline(online)
		e.watcher.Prime(online)
	} else {
		e.policy.SetOnline(true)
	}

	e.policy.Start(ctx)
	if e.watcher != nil {
		e.watcher.Run(ctx)
	} else {
		<-ctx.Done()
	}

	e.policy.Stop()
	e.logger.Info("sync engine stopped")
}

// RunOnce performs a single manual sync, probing first so the run sees an
// honest connectivity verdict. Used by the sync-now and retry commands.
func (e *Engine) RunOnce(ctx context.Context) Summary {
	return e.runner.SyncAll(ctx, RunOptions{Online: e.checkOnline(ctx), Reason: "manual"})
}

// RetryOne re-attempts a single item regardless of its status.
func (e *Engine) RetryOne(ctx context.Context, id string) Summary {
	return e.runner.SyncOne(ctx, id, RunOptions{Online: e.checkOnline(ctx), Reason: "manual"})
}

func (e *Engine) checkOnline(ctx context.Context) bool {
	if e.probe == nil {
		// No endpoint configured. Claim online so the run reaches the
		// settings check and reports the real cause.
		return true
	}
	return e.probe.Check(ctx).Reachable
}
