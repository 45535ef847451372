// Package broadcast fans a message out to every live connection in a session.
package broadcast

import (
	"log"
	"sync"

	"github.com/ybrake1950/planning-poker/internal/poker/registry"
)

// Message is one outbound event delivered to session participants. The
// payload is built once from a single session snapshot; every recipient sees
// the same message.
type Message struct {
	Type    string
	Payload any
}

// Sender delivers a message to one connection. Implementations must be safe
// for concurrent use across connections.
type Sender interface {
	Send(connID string, message Message) error
}

// Broadcaster resolves live connections via the registry and delivers
// messages to each independently. Delivery is best effort: a failed send
// unbinds that connection and never blocks the others.
type Broadcaster struct {
	registry *registry.Registry
	sender   Sender
	inflight sync.WaitGroup
}

// New creates a broadcaster over the given registry and sender.
func New(reg *registry.Registry, sender Sender) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		sender:   sender,
	}
}

// Broadcast delivers message to every connection bound to sessionCode.
// Deliveries are fire-and-forget: each recipient gets its own goroutine and
// a slow or dead connection never delays the caller or the other recipients.
func (b *Broadcaster) Broadcast(sessionCode string, message Message) {
	b.deliver(b.registry.ListBySession(sessionCode), message)
}

// BroadcastTo delivers message to an explicit set of bindings, used when the
// registry entries are already being torn down (session eviction).
func (b *Broadcaster) BroadcastTo(bindings []registry.Binding, message Message) {
	b.deliver(bindings, message)
}

// Wait blocks until all in-flight deliveries complete. Tests and graceful
// shutdown use it; the hot path never does.
func (b *Broadcaster) Wait() {
	b.inflight.Wait()
}

func (b *Broadcaster) deliver(bindings []registry.Binding, message Message) {
	for _, binding := range bindings {
		b.inflight.Add(1)
		go func(binding registry.Binding) {
			defer b.inflight.Done()
			if err := b.sender.Send(binding.ConnID, message); err != nil {
				// A dead connection; drop the binding and move on.
				log.Printf("broadcast send failed session=%s player=%s conn=%s: %v",
					binding.SessionCode, binding.PlayerName, binding.ConnID, err)
				b.registry.Unbind(binding.ConnID)
			}
		}(binding)
	}
}
