package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"testing"
)

// fakeTimers captures retry timers instead of arming real ones, so tests
// fire them deterministically.
type fakeTimers struct {
	mu     stdsync.Mutex
	delays []time.Duration
	fns    []func()
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) *time.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	return time.NewTimer(time.Hour)
}

func (f *fakeTimers) fireLast() {
	f.mu.Lock()
	fn := f.fns[len(f.fns)-1]
	f.mu.Unlock()
	fn()
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

func newTestPolicy(store *mockStore, api Submitter) (*AutoSync, *fakeTimers, *Bus) {
	runner, bus := newTestRunner(store, api, nil)
	policy := NewAutoSync(runner, NewBackoff(0, 0), testLogger())
	timers := &fakeTimers{}
	policy.after = timers.afterFunc
	return policy, timers, bus
}

// countRuns drains the channel and counts run_started events.
func countRuns(events <-chan Event) int {
	n := 0
	for len(events) > 0 {
		if (<-events).Kind == EventRunStarted {
			n++
		}
	}
	return n
}

func TestAutoSyncStartFiresOnce(t *testing.T) {
	policy, _, bus := newTestPolicy(&mockStore{}, &mockSubmitter{})
	events, cancel := bus.Subscribe(16)
	defer cancel()
	policy.SetOnline(true)

	policy.Start(context.Background())
	policy.Start(context.Background())

	if n := countRuns(events); n != 1 {
		t.Errorf("runs after two Start calls = %d, want 1", n)
	}
}

func TestAutoSyncTriggersOnConnectivityRegain(t *testing.T) {
	policy, _, bus := newTestPolicy(&mockStore{}, &mockSubmitter{})
	events, cancel := bus.Subscribe(16)
	defer cancel()

	policy.OnConnectivityChange(context.Background(), true)

	if n := countRuns(events); n != 1 {
		t.Errorf("runs after offline→online = %d, want 1", n)
	}
}

func TestAutoSyncIgnoresRepeatedOnlineReports(t *testing.T) {
	policy, _, bus := newTestPolicy(&mockStore{}, &mockSubmitter{})
	events, cancel := bus.Subscribe(16)
	defer cancel()

	policy.OnConnectivityChange(context.Background(), true)
	policy.OnConnectivityChange(context.Background(), true)

	if n := countRuns(events); n != 1 {
		t.Errorf("runs after two online reports = %d, want 1", n)
	}
}

func TestAutoSyncSchedulesRetryOnFailure(t *testing.T) {
	store := &mockStore{}
	item := queuedItem("expo-2026")
	store.add(item)
	api := &mockSubmitter{failIDs: map[string]error{item.ClientLeadID: errors.New("503")}}
	policy, timers, _ := newTestPolicy(store, api)
	policy.SetOnline(true)

	policy.Start(context.Background())

	if timers.count() != 1 {
		t.Fatalf("armed timers = %d, want 1", timers.count())
	}
	if timers.delays[0] != 1*time.Second {
		t.Errorf("first retry delay = %v, want 1s", timers.delays[0])
	}

	// The armed retry fails again and backs off further.
	timers.fireLast()
	if timers.count() != 2 {
		t.Fatalf("armed timers = %d, want 2", timers.count())
	}
	if timers.delays[1] != 2*time.Second {
		t.Errorf("second retry delay = %v, want 2s", timers.delays[1])
	}
}

func TestAutoSyncCleanRunResetsBackoff(t *testing.T) {
	store := &mockStore{}
	item := queuedItem("expo-2026")
	store.add(item)
	api := &mockSubmitter{failIDs: map[string]error{item.ClientLeadID: errors.New("503")}}
	policy, timers, _ := newTestPolicy(store, api)
	policy.SetOnline(true)

	policy.Start(context.Background())      // fails, arms 1s retry
	delete(api.failIDs, item.ClientLeadID)
	timers.fireLast() // succeeds, resets backoff

	next := queuedItem("expo-2026")
	store.add(next)
	api.failIDs = map[string]error{next.ClientLeadID: errors.New("503")}
	policy.OnEnqueue(context.Background()) // fails again

	if timers.count() != 2 {
		t.Fatalf("armed timers = %d, want 2", timers.count())
	}
	if timers.delays[1] != 1*time.Second {
		t.Errorf("delay after clean run = %v, want 1s (backoff reset)", timers.delays[1])
	}
}

func TestAutoSyncOfflineSkipLeavesBackoffAlone(t *testing.T) {
	store := &mockStore{}
	item := queuedItem("expo-2026")
	store.add(item)
	api := &mockSubmitter{failIDs: map[string]error{item.ClientLeadID: errors.New("503")}}
	policy, timers, _ := newTestPolicy(store, api)
	policy.SetOnline(true)

	policy.Start(context.Background()) // fails, arms 1s retry

	policy.OnConnectivityChange(context.Background(), false)
	if policy.retry != nil {
		t.Error("retry timer still armed after going offline")
	}

	// Back online: the sync fails again. The backoff sequence continues
	// at 2s; the offline interlude said nothing about the server.
	policy.OnConnectivityChange(context.Background(), true)
	if timers.count() != 2 {
		t.Fatalf("armed timers = %d, want 2", timers.count())
	}
	if timers.delays[1] != 2*time.Second {
		t.Errorf("delay after offline interlude = %v, want 2s", timers.delays[1])
	}
}

func TestAutoSyncForegroundTriggersRun(t *testing.T) {
	policy, _, bus := newTestPolicy(&mockStore{}, &mockSubmitter{})
	events, cancel := bus.Subscribe(16)
	defer cancel()
	policy.SetOnline(true)

	policy.OnForeground(context.Background())

	if n := countRuns(events); n != 1 {
		t.Errorf("runs after foreground = %d, want 1", n)
	}
}

func TestAutoSyncStopCancelsRetry(t *testing.T) {
	store := &mockStore{}
	item := queuedItem("expo-2026")
	store.add(item)
	api := &mockSubmitter{failIDs: map[string]error{item.ClientLeadID: errors.New("503")}}
	policy, _, _ := newTestPolicy(store, api)
	policy.SetOnline(true)

	policy.Start(context.Background())
	policy.Stop()

	if policy.retry != nil {
		t.Error("retry timer still armed after Stop")
	}
}
