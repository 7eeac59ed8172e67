package events

import (
	"fmt"
	"sync"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

// Handler receives one coalesced notification per epoch.
type Handler func(mesh.ChangeFlags)

// subscriber pairs a handler with its subscription ID. Delivery order
// is subscription order.
type subscriber struct {
	id uint32
	fn Handler
}

// Notifier coalesces change flags and publishes composite notifications.
type Notifier struct {
	mu sync.Mutex

	nextID  uint32
	subs    []subscriber
	pending mesh.ChangeFlags
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a handler and returns its subscription ID.
func (n *Notifier) Subscribe(fn Handler) uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	n.subs = append(n.subs, subscriber{id: n.nextID, fn: fn})
	return n.nextID
}

// Unsubscribe removes a subscription.
func (n *Notifier) Unsubscribe(id uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, sub := range n.subs {
		if sub.id == id {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: subscription %d", mesh.ErrNotFound, id)
}

// Raise accumulates flags into the current epoch.
func (n *Notifier) Raise(flags mesh.ChangeFlags) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending |= flags
}

// Pending returns the flags accumulated so far this epoch.
func (n *Notifier) Pending() mesh.ChangeFlags {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

// Flush closes the epoch: if any flags are pending, they are delivered
// to every subscriber in subscription order, synchronously. Flags
// raised by a handler during delivery belong to the next epoch.
func (n *Notifier) Flush() {
	n.mu.Lock()
	flags := n.pending
	n.pending = 0
	subs := make([]subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	if flags == 0 {
		return
	}
	for _, sub := range subs {
		sub.fn(flags)
	}
}
