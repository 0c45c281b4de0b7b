package sync

import (
	stdsync "sync"
	"time"
)

// SkipReason explains why a sync run did not touch the network.
type SkipReason string

const (
	// SkipNone means the run actually drained the queue.
	SkipNone SkipReason = ""
	// SkipBusy means another run was already in flight.
	SkipBusy SkipReason = "busy"
	// SkipOffline means the server was unreachable.
	SkipOffline SkipReason = "offline"
	// SkipSettings means no lead API endpoint is configured yet.
	SkipSettings SkipReason = "settings"
	// SkipEmpty means the outbox had nothing queued.
	SkipEmpty SkipReason = "empty"
)

// Summary is the result of one sync run.
type Summary struct {
	Ok            int
	Failed        int
	Skipped       int
	SkippedReason SkipReason
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Completed reports whether the run got as far as draining the queue.
// Busy, offline and unconfigured runs never started, so they do not count.
func (s Summary) Completed() bool {
	switch s.SkippedReason {
	case SkipBusy, SkipOffline, SkipSettings:
		return false
	}
	return true
}

// EventKind discriminates the events published on the [Bus].
type EventKind string

const (
	// EventRunStarted is published when a run acquires the sync mutex.
	EventRunStarted EventKind = "run_started"
	// EventRunFinished carries the run's final Summary.
	EventRunFinished EventKind = "run_finished"
	// EventItemSynced is published after an item is submitted and removed.
	EventItemSynced EventKind = "item_synced"
	// EventItemFailed is published after an item's attempt failed.
	EventItemFailed EventKind = "item_failed"
	// EventConnectivity is published when reachability flips.
	EventConnectivity EventKind = "connectivity"
)

// Event is a status notification for UI layers and the daemon log.
type Event struct {
	Kind    EventKind
	ItemID  string
	Online  bool
	Summary Summary
	At      time.Time
}

// Bus fans sync events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event. Status consumers must
// treat the stream as lossy and re-read the outbox for ground truth.
type Bus struct {
	mu   stdsync.Mutex
	next int
	subs map[int]chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer. The returned
// cancel func removes the subscription and closes the channel; it is safe to
// call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once stdsync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber that has buffer space left.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
