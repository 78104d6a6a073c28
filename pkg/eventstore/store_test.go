package eventstore

import (
	"sync"
	"testing"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/primitives"
)

func mustEvent(t *testing.T, id byte) event.Event {
	t.Helper()
	p := event.ObjectiveApprovedPayload{ObjectiveID: primitives.Hash{id}}
	e, err := event.New(p, int64(id))
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return e
}

func TestAppendReadAtRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)
	ev := mustEvent(t, 1)
	offset, err := s.Append(ev)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected offset 0, got %d", offset)
	}
	got, err := s.ReadAt(0)
	if err != nil {
		t.Fatalf("read at: %v", err)
	}
	if got.ID != ev.ID {
		t.Fatalf("read event mismatch")
	}
}

func TestReadAtLenIsOutOfBounds(t *testing.T) {
	s := NewMemoryStore(0)
	s.Append(mustEvent(t, 1))
	if _, err := s.ReadAt(s.Len()); err != ErrOffsetOutOfBounds {
		t.Fatalf("expected ErrOffsetOutOfBounds, got %v", err)
	}
}

func TestReadRangeBounds(t *testing.T) {
	s := NewMemoryStore(0)
	for i := byte(0); i < 5; i++ {
		s.Append(mustEvent(t, i))
	}
	if _, err := s.ReadRange(3, 2); err == nil {
		t.Fatalf("expected error for start > end")
	}
	if _, err := s.ReadRange(0, 6); err == nil {
		t.Fatalf("expected error for end > len")
	}
	got, err := s.ReadRange(1, 4)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
}

// TestStableReferencesAcrossGrowth covers spec §4.1's hard contract:
// appending never invalidates the address of an already-stored event,
// including across chunk boundaries.
func TestStableReferencesAcrossGrowth(t *testing.T) {
	s := NewMemoryStore(0)
	s.Append(mustEvent(t, 1))
	ref0, err := s.ReadAt(0)
	if err != nil {
		t.Fatalf("read at: %v", err)
	}
	originalID := ref0.ID

	// Push past several chunk boundaries.
	for i := 1; i < 3*chunkSize+1; i++ {
		s.Append(mustEvent(t, byte(i)))
	}
	if ref0.ID != originalID {
		t.Fatalf("stable reference was mutated by subsequent appends")
	}
	again, err := s.ReadAt(0)
	if err != nil {
		t.Fatalf("read at: %v", err)
	}
	if again.ID != originalID {
		t.Fatalf("re-reading offset 0 must still return the original event")
	}
}

func TestOutOfMemory(t *testing.T) {
	s := NewMemoryStore(2)
	if _, err := s.Append(mustEvent(t, 1)); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if _, err := s.Append(mustEvent(t, 2)); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if _, err := s.Append(mustEvent(t, 3)); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

// TestConcurrentAppendAtomicity covers spec §8 scenario 3: N threads each
// append M events; after join, Len() equals the total and every offset in
// [0, total) is assigned exactly once.
func TestConcurrentAppendAtomicity(t *testing.T) {
	const threads = 10
	const perThread = 100
	s := NewMemoryStore(0)

	var wg sync.WaitGroup
	offsets := make(chan uint64, threads*perThread)
	for th := 0; th < threads; th++ {
		wg.Add(1)
		go func(th int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				ev := mustEvent(t, byte(th*perThread+i))
				off, err := s.Append(ev)
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				offsets <- off
			}
		}(th)
	}
	wg.Wait()
	close(offsets)

	if s.Len() != threads*perThread {
		t.Fatalf("expected len %d, got %d", threads*perThread, s.Len())
	}
	seen := make(map[uint64]bool)
	for off := range offsets {
		if seen[off] {
			t.Fatalf("duplicate offset %d", off)
		}
		seen[off] = true
	}
	for off := uint64(0); off < threads*perThread; off++ {
		if _, err := s.ReadAt(off); err != nil {
			t.Fatalf("offset %d not retrievable: %v", off, err)
		}
	}
}

func TestSubscriberFanOutOrderAndOnce(t *testing.T) {
	s := NewMemoryStore(0)
	var mu sync.Mutex
	var orderA, orderB []uint64

	s.Subscribe(func(ev *event.Event, offset uint64) {
		mu.Lock()
		orderA = append(orderA, offset)
		mu.Unlock()
	})
	s.Subscribe(func(ev *event.Event, offset uint64) {
		mu.Lock()
		orderB = append(orderB, offset)
		mu.Unlock()
	})

	for i := byte(0); i < 5; i++ {
		s.Append(mustEvent(t, i))
	}

	for i, off := range orderA {
		if off != uint64(i) {
			t.Fatalf("subscriber A out of order at %d: got %d", i, off)
		}
	}
	if len(orderA) != 5 || len(orderB) != 5 {
		t.Fatalf("each subscriber must see each event exactly once: %d %d", len(orderA), len(orderB))
	}
}

func TestUnsubscribe(t *testing.T) {
	s := NewMemoryStore(0)
	count := 0
	id := s.Subscribe(func(ev *event.Event, offset uint64) { count++ })
	s.Append(mustEvent(t, 1))
	s.Unsubscribe(id)
	s.Append(mustEvent(t, 2))
	if count != 1 {
		t.Fatalf("expected 1 callback after unsubscribe, got %d", count)
	}
}
