package survey

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestRegistry_AttachBroadcast(t *testing.T) {
	reg := NewRegistry()
	manual := &recordingSink{}
	voice := &recordingSink{}
	reg.Attach("sess-1", "manual", manual)
	reg.Attach("sess-1", "voice", voice)

	reg.Broadcast("sess-1", State{Step: "S2"})

	waitForPushes(t, manual, 1)
	waitForPushes(t, voice, 1)
	if pushed, _ := manual.last(); pushed.Step != "S2" {
		t.Errorf("Expected manual sink to receive step S2, got %+v", pushed)
	}
	if pushed, _ := voice.last(); pushed.Step != "S2" {
		t.Errorf("Expected voice sink to receive step S2, got %+v", pushed)
	}
}

func TestRegistry_BroadcastOtherSessionUnaffected(t *testing.T) {
	reg := NewRegistry()
	a := &recordingSink{}
	b := &recordingSink{}
	reg.Attach("sess-a", "manual", a)
	reg.Attach("sess-b", "manual", b)

	reg.Broadcast("sess-a", State{Step: "S2"})

	waitForPushes(t, a, 1)
	settle()
	if b.count() != 0 {
		t.Errorf("Expected sess-b sink untouched, got %d", b.count())
	}
}

func TestRegistry_Detach(t *testing.T) {
	reg := NewRegistry()
	sink := &recordingSink{}
	reg.Attach("sess-1", "voice", sink)
	reg.Detach("sess-1", "voice", sink)

	reg.Broadcast("sess-1", State{Step: "S2"})
	settle()
	if sink.count() != 0 {
		t.Errorf("Expected no pushes after detach, got %d", sink.count())
	}
	if reg.Attached("sess-1") != 0 {
		t.Errorf("Expected 0 attached drivers, got %d", reg.Attached("sess-1"))
	}
}

func TestRegistry_StaleDetachKeepsReplacement(t *testing.T) {
	reg := NewRegistry()
	old := &recordingSink{}
	replacement := &recordingSink{}
	reg.Attach("sess-1", "voice", old)
	reg.Attach("sess-1", "voice", replacement)

	// The old connection's deferred detach must not evict the replacement.
	reg.Detach("sess-1", "voice", old)

	reg.Broadcast("sess-1", State{Step: "S2"})
	waitForPushes(t, replacement, 1)
}

func TestRegistry_PushFailureDropsOnlyThatDriver(t *testing.T) {
	reg := NewRegistry()
	failing := &recordingSink{err: errors.New("connection gone")}
	healthy := &recordingSink{}
	reg.Attach("sess-1", "voice", failing)
	reg.Attach("sess-1", "manual", healthy)

	reg.Broadcast("sess-1", State{Step: "S2"})

	waitForPushes(t, healthy, 1)
}

func TestRegistry_BroadcastNeverBlocksOnStalledDriver(t *testing.T) {
	reg := NewRegistry()
	stalled := &stalledSink{release: make(chan struct{})}
	t.Cleanup(func() { close(stalled.release) })
	reg.Attach("sess-1", "voice", stalled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the queue depth; every call must return immediately.
		for i := 0; i < driverQueueDepth*4; i++ {
			reg.Broadcast("sess-1", State{Step: "S2"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a stalled driver")
	}
}

func TestRegistry_LatestStateWinsWhenDriverLags(t *testing.T) {
	reg := NewRegistry()
	lagging := &recordingSink{}
	blocker := make(chan struct{})
	gate := &gatedSink{inner: lagging, gate: blocker}
	reg.Attach("sess-1", "voice", gate)

	// Overflow the queue while the first push is held up; the oldest queued
	// states are dropped, never the newest.
	for i := 0; i < driverQueueDepth*3; i++ {
		reg.Broadcast("sess-1", State{Step: "S1"})
	}
	final := State{Step: "S9"}
	reg.Broadcast("sess-1", final)
	close(blocker)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pushed, ok := lagging.last(); ok && pushed.Step == final.Step {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	pushed, _ := lagging.last()
	t.Fatalf("Expected final state %s to arrive, last delivered %+v", final.Step, pushed)
}

// gatedSink holds every push until its gate opens, then delegates.
type gatedSink struct {
	inner *recordingSink
	gate  chan struct{}
}

func (s *gatedSink) Push(state State) error {
	<-s.gate
	return s.inner.Push(state)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	go func() {
		for i := 0; i < 1000; i++ {
			reg.Attach("sess-1", "driver-"+strconv.Itoa(i), &recordingSink{})
		}
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			reg.Broadcast("sess-1", State{Step: "S1"})
		}
	}()

	time.Sleep(100 * time.Millisecond)
}
