package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"
)

// timerFunc abstracts time.AfterFunc so tests can fire retries directly.
type timerFunc func(d time.Duration, f func()) *time.Timer

// AutoSync decides when sync runs fire. Triggers are:
//
//   - Start: once, when the daemon comes up.
//   - OnEnqueue: a new item landed in the outbox.
//   - OnForeground: the embedding app resumed.
//   - OnConnectivityChange: reachability flipped. Only the offline→online
//     edge triggers; going offline cancels any pending retry instead.
//   - a retry timer armed after a run with failures, backing off
//     exponentially until a clean run resets it.
//
// AutoSync tracks the last known connectivity verdict and passes it into
// every run, so an offline trigger is a cheap no-op. It never serializes
// runs itself; overlapping triggers collapse into SkipBusy inside the
// Runner.
type AutoSync struct {
	runner  *Runner
	logger  *slog.Logger
	backoff *Backoff
	after   timerFunc

	mu      stdsync.Mutex
	started bool
	online  bool
	retry   *time.Timer
}

// NewAutoSync builds the trigger policy around a runner. The daemon is
// assumed offline until the first connectivity report.
func NewAutoSync(runner *Runner, backoff *Backoff, logger *slog.Logger) *AutoSync {
	if backoff == nil {
		backoff = NewBackoff(0, 0)
	}
	return &AutoSync{
		runner:  runner,
		logger:  logger,
		backoff: backoff,
		after:   time.AfterFunc,
	}
}

// SetOnline records the verdict without triggering a run. Used once at
// daemon startup, before the first sync fires.
func (a *AutoSync) SetOnline(online bool) {
	a.mu.Lock()
	a.online = online
	a.mu.Unlock()
}

// Start fires the startup sync. Subsequent calls are no-ops.
func (a *AutoSync) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.trigger(ctx, "startup")
}

// OnEnqueue is called after a new item was persisted to the outbox.
func (a *AutoSync) OnEnqueue(ctx context.Context) {
	a.trigger(ctx, "enqueue")
}

// OnForeground is called when the embedding app returns to the foreground.
func (a *AutoSync) OnForeground(ctx context.Context) {
	a.trigger(ctx, "foreground")
}

// OnConnectivityChange records the new verdict. Regaining connectivity
// triggers a run; losing it cancels any armed retry, since retrying
// against a dead server only burns tries.
func (a *AutoSync) OnConnectivityChange(ctx context.Context, online bool) {
	a.mu.Lock()
	was := a.online
	a.online = online
	if !online {
		a.stopRetryLocked()
	}
	a.mu.Unlock()

	if online && !was {
		a.trigger(ctx, "connectivity")
	}
}

// trigger runs a sync for the given reason and arms or resets the retry
// timer based on the outcome.
func (a *AutoSync) trigger(ctx context.Context, reason string) {
	a.mu.Lock()
	online := a.online
	a.mu.Unlock()

	sum := a.runner.SyncAll(ctx, RunOptions{Online: online, Reason: reason})
	a.handle(ctx, sum)
}

func (a *AutoSync) handle(ctx context.Context, sum Summary) {
	// Runs that never started (busy, offline, unconfigured) say nothing
	// about the server, so they leave the backoff alone.
	if !sum.Completed() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if sum.Failed == 0 {
		a.backoff.Reset()
		a.stopRetryLocked()
		return
	}

	if a.retry != nil {
		// A retry is already armed; let it fire.
		return
	}
	d := a.backoff.NextDelay()
	a.logger.Info("scheduling retry", "in", d, "failed", sum.Failed)
	a.retry = a.after(d, func() {
		a.mu.Lock()
		a.retry = nil
		a.mu.Unlock()
		a.trigger(ctx, "retry")
	})
}

func (a *AutoSync) stopRetryLocked() {
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
}

// Stop cancels any pending retry. Called on daemon shutdown.
func (a *AutoSync) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopRetryLocked()
}
