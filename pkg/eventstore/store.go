// Package eventstore implements the append-only, thread-safe event log
// (spec §4.1): atomic append with stable in-log references, ordered
// reads by offset and range, a lock-free length counter, and
// subscriber fan-out invoked inside the append critical section.
//
// Store is the interface every component above this layer (reconstruct,
// objective, validation) depends on — never a concrete backend. This
// package provides the in-memory implementation; pkg/eventstore/sqlstore
// provides a durable, Postgres-backed second implementation of the same
// contract (spec §1.4, §4.1 "a future durable implementation").
package eventstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/evchannel/core/pkg/event"
)

// Errors returned by Store operations, per spec §7's Not-found and
// Resource taxonomies.
var (
	ErrOffsetOutOfBounds = errors.New("eventstore: offset out of bounds")
	ErrOutOfMemory       = errors.New("eventstore: capacity exhausted")
	ErrInvalidRange      = errors.New("eventstore: invalid range")
)

// SubscriptionID identifies a registered subscriber for later Unsubscribe.
type SubscriptionID uint64

// Callback is invoked once per appended event, in offset order, with the
// store's write lock held. It must not block and must not call back into
// the store (spec §5 locking discipline) — its only legal action is to
// enqueue work on an external queue.
type Callback func(ev *event.Event, offset uint64)

// Store is the append-only event log contract. Every method is safe for
// concurrent use; Append is serialized, reads proceed concurrently with
// each other while no append is in flight.
type Store interface {
	Append(ev event.Event) (uint64, error)
	ReadAt(offset uint64) (*event.Event, error)
	ReadRange(start, end uint64) ([]*event.Event, error)
	Subscribe(cb Callback) SubscriptionID
	Unsubscribe(id SubscriptionID)
	Len() uint64
}

const chunkSize = 1024

type subscriber struct {
	id SubscriptionID
	cb Callback
}

// MemoryStore is the in-process implementation of Store. Events are held
// in fixed-capacity chunks so that growth never reallocates a chunk that
// already holds entries — the hard "stable reference" contract from
// spec §4.1 depends on this: a *event.Event handed to a caller or
// subscriber remains valid for the life of the store.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks [][]event.Event
	length atomic.Uint64

	subs      []subscriber
	nextSubID uint64

	// maxCapacity caps the number of events the store will hold; 0 means
	// unbounded. It stands in for the OutOfMemory condition spec §4.1
	// requires be surfaced rather than silently retried.
	maxCapacity uint64
}

// NewMemoryStore returns an empty in-memory event store. maxCapacity of 0
// means unbounded.
func NewMemoryStore(maxCapacity uint64) *MemoryStore {
	return &MemoryStore{maxCapacity: maxCapacity}
}

// Append assigns the next dense offset, stores ev, and invokes every
// subscriber in registration order while still holding the write lock.
func (s *MemoryStore) Append(ev event.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.size()
	if s.maxCapacity > 0 && offset >= s.maxCapacity {
		return 0, ErrOutOfMemory
	}

	chunkIdx := offset / chunkSize
	if int(chunkIdx) == len(s.chunks) {
		s.chunks = append(s.chunks, make([]event.Event, 0, chunkSize))
	}
	s.chunks[chunkIdx] = append(s.chunks[chunkIdx], ev)
	s.length.Store(offset + 1)

	ref := &s.chunks[chunkIdx][len(s.chunks[chunkIdx])-1]
	for _, sub := range s.subs {
		sub.cb(ref, offset)
	}
	return offset, nil
}

func (s *MemoryStore) size() uint64 {
	if len(s.chunks) == 0 {
		return 0
	}
	full := uint64(len(s.chunks)-1) * chunkSize
	return full + uint64(len(s.chunks[len(s.chunks)-1]))
}

// ReadAt returns a stable reference to the event at offset.
func (s *MemoryStore) ReadAt(offset uint64) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset >= s.size() {
		return nil, ErrOffsetOutOfBounds
	}
	chunkIdx := offset / chunkSize
	within := offset % chunkSize
	return &s.chunks[chunkIdx][within], nil
}

// ReadRange returns stable references to events in [start, end).
func (s *MemoryStore) ReadRange(start, end uint64) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if start > end {
		return nil, fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	total := s.size()
	if end > total {
		return nil, fmt.Errorf("%w: end %d > len %d", ErrOffsetOutOfBounds, end, total)
	}
	out := make([]*event.Event, 0, end-start)
	for off := start; off < end; off++ {
		chunkIdx := off / chunkSize
		within := off % chunkSize
		out = append(out, &s.chunks[chunkIdx][within])
	}
	return out, nil
}

// Subscribe registers cb to be invoked for every future append, in
// registration order relative to other subscribers.
func (s *MemoryStore) Subscribe(cb Callback) SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := SubscriptionID(s.nextSubID)
	s.subs = append(s.subs, subscriber{id: id, cb: cb})
	return id
}

// Unsubscribe removes a previously registered callback.
func (s *MemoryStore) Unsubscribe(id SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Len is a lock-free load of the monotonic length counter. It may legally
// lag a concurrent append by the instant between the counter store and
// lock release, but it never exceeds the true size.
func (s *MemoryStore) Len() uint64 {
	return s.length.Load()
}

var _ Store = (*MemoryStore)(nil)
