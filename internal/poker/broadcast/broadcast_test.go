package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ybrake1950/planning-poker/internal/poker/registry"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     map[string][]Message
	failFor  map[string]bool
	blockFor map[string]chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		sent:     make(map[string][]Message),
		failFor:  make(map[string]bool),
		blockFor: make(map[string]chan struct{}),
	}
}

func (s *recordingSender) Send(connID string, message Message) error {
	s.mu.Lock()
	block := s.blockFor[connID]
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[connID] {
		return errors.New("connection is dead")
	}
	s.sent[connID] = append(s.sent[connID], message)
	return nil
}

func (s *recordingSender) messages(connID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent[connID]...)
}

func TestBroadcastReachesAllSessionConnections(t *testing.T) {
	reg := registry.New()
	reg.Bind("conn-1", "ABCD1234", "Alice", false)
	reg.Bind("conn-2", "ABCD1234", "Bob", true)
	reg.Bind("conn-3", "ZZZZ9999", "Eve", false)

	sender := newRecordingSender()
	b := New(reg, sender)

	b.Broadcast("ABCD1234", Message{Type: "poker.state"})
	b.Wait()

	if got := sender.messages("conn-1"); len(got) != 1 || got[0].Type != "poker.state" {
		t.Fatalf("conn-1 messages = %+v", got)
	}
	if got := sender.messages("conn-2"); len(got) != 1 {
		t.Fatalf("conn-2 messages = %+v", got)
	}
	if got := sender.messages("conn-3"); len(got) != 0 {
		t.Fatal("other session received the broadcast")
	}
}

func TestFailedDeliveryUnbindsOnlyThatConnection(t *testing.T) {
	reg := registry.New()
	reg.Bind("conn-1", "ABCD1234", "Alice", false)
	reg.Bind("conn-2", "ABCD1234", "Bob", true)

	sender := newRecordingSender()
	sender.failFor["conn-1"] = true
	b := New(reg, sender)

	b.Broadcast("ABCD1234", Message{Type: "poker.state"})
	b.Wait()

	if _, ok := reg.Resolve("conn-1"); ok {
		t.Fatal("failed connection should be unbound")
	}
	if _, ok := reg.Resolve("conn-2"); !ok {
		t.Fatal("healthy connection should stay bound")
	}
	if got := sender.messages("conn-2"); len(got) != 1 {
		t.Fatal("healthy connection should still receive the message")
	}
}

func TestSlowConnectionDoesNotDelayOthers(t *testing.T) {
	reg := registry.New()
	reg.Bind("conn-slow", "ABCD1234", "Alice", false)
	reg.Bind("conn-fast", "ABCD1234", "Bob", true)

	sender := newRecordingSender()
	release := make(chan struct{})
	sender.blockFor["conn-slow"] = release
	b := New(reg, sender)

	b.Broadcast("ABCD1234", Message{Type: "poker.state"})

	deadline := time.After(2 * time.Second)
	for len(sender.messages("conn-fast")) == 0 {
		select {
		case <-deadline:
			t.Fatal("fast connection stuck behind slow one")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	b.Wait()
	if got := sender.messages("conn-slow"); len(got) != 1 {
		t.Fatal("slow connection should still get the message")
	}
}

func TestBroadcastToEmptySession(t *testing.T) {
	b := New(registry.New(), newRecordingSender())
	// Broadcasting into the void must not panic or block.
	b.Broadcast("NOPE0000", Message{Type: "poker.state"})
	b.Wait()
}
