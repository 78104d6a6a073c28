// Package validation implements the read-only validation context (spec
// §4.8): existence checks over the event store that inbound-event
// validation runs before an event is appended, so a rejected event
// leaves the log untouched.
//
// The in-memory implementation scans the log directly rather than
// maintaining an index — an explicit tradeoff the spec accepts at the
// ≤10^4-event scale of a single process, the same scan-on-read choice
// teacher pkg/ledger.LedgerStore makes for its historical queries.
package validation

import (
	"fmt"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/primitives"
)

// Context is the read-only projection handed to validation hooks.
type Context struct {
	store eventstore.Store
}

// NewContext wraps an event store for existence checks.
func NewContext(store eventstore.Store) *Context {
	return &Context{store: store}
}

// ObjectiveExists reports whether an objective-created event exists for id.
func (c *Context) ObjectiveExists(id primitives.Hash) (bool, error) {
	return c.exists(id, func(p event.Payload) bool {
		_, ok := p.(event.ObjectiveCreatedPayload)
		return ok
	})
}

// ChannelExists reports whether a channel-created event exists for id.
func (c *Context) ChannelExists(id primitives.Hash) (bool, error) {
	return c.exists(id, func(p event.Payload) bool {
		_, ok := p.(event.ChannelCreatedPayload)
		return ok
	})
}

func (c *Context) exists(id primitives.Hash, isCreation func(event.Payload) bool) (bool, error) {
	evs, err := c.store.ReadRange(0, c.store.Len())
	if err != nil {
		return false, fmt.Errorf("validation: scan log: %w", err)
	}
	for _, ev := range evs {
		if !isCreation(ev.Payload) {
			continue
		}
		carrier, ok := ev.Payload.(event.EntityCarrier)
		if !ok {
			continue
		}
		if primitives.Hash(carrier.EntityID()) == id {
			return true, nil
		}
	}
	return false, nil
}
