package lifecycle

import (
	"sync"
	"testing"
	"time"
)

type expireRecorder struct {
	mu    sync.Mutex
	codes []string
	fired chan string
}

func newExpireRecorder() *expireRecorder {
	return &expireRecorder{fired: make(chan string, 16)}
}

func (r *expireRecorder) expire(code string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.fired <- code
}

func (r *expireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

func TestExpireFiresAfterIdleWindow(t *testing.T) {
	recorder := newExpireRecorder()
	m := NewManager(recorder.expire, WithIdleTimeout(20*time.Millisecond))
	defer m.Stop()

	m.Touch("ABCD1234")

	select {
	case code := <-recorder.fired:
		if code != "ABCD1234" {
			t.Fatalf("expired code = %q", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("eviction never fired")
	}
}

func TestTouchReschedules(t *testing.T) {
	recorder := newExpireRecorder()
	m := NewManager(recorder.expire, WithIdleTimeout(60*time.Millisecond))
	defer m.Stop()

	m.Touch("ABCD1234")
	// Keep touching inside the window; the timer must keep moving out.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		m.Touch("ABCD1234")
	}
	if recorder.count() != 0 {
		t.Fatal("eviction fired despite activity")
	}

	select {
	case <-recorder.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("eviction never fired after activity stopped")
	}
}

func TestCancelDropsTimer(t *testing.T) {
	recorder := newExpireRecorder()
	m := NewManager(recorder.expire, WithIdleTimeout(20*time.Millisecond))
	defer m.Stop()

	m.Touch("ABCD1234")
	m.Cancel("ABCD1234")

	time.Sleep(60 * time.Millisecond)
	if recorder.count() != 0 {
		t.Fatal("eviction fired after cancel")
	}
}

func TestScheduleAfterUsesShorterWindow(t *testing.T) {
	recorder := newExpireRecorder()
	m := NewManager(recorder.expire, WithIdleTimeout(time.Hour))
	defer m.Stop()

	m.Touch("ABCD1234")
	m.ScheduleAfter("ABCD1234", 20*time.Millisecond)

	select {
	case <-recorder.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("short reschedule never fired")
	}
}

func TestStopSilencesCallbacks(t *testing.T) {
	recorder := newExpireRecorder()
	m := NewManager(recorder.expire, WithIdleTimeout(10*time.Millisecond))

	m.Touch("ABCD1234")
	m.Stop()

	time.Sleep(50 * time.Millisecond)
	if recorder.count() != 0 {
		t.Fatal("eviction fired after Stop")
	}

	// Touch after Stop must not arm new timers.
	m.Touch("ZZZZ9999")
	time.Sleep(50 * time.Millisecond)
	if recorder.count() != 0 {
		t.Fatal("timer armed after Stop")
	}
}
