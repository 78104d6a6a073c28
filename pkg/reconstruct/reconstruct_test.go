package reconstruct

import (
	"testing"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/primitives"
)

func appendEvent(t *testing.T, store eventstore.Store, p event.Payload, ts int64) *event.Event {
	t.Helper()
	ev, err := event.New(p, ts)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	off, err := store.Append(ev)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := store.ReadAt(off)
	if err != nil {
		t.Fatalf("read at: %v", err)
	}
	return got
}

func TestObjectiveNotFound(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	if _, err := Objective(store, primitives.Hash{1}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObjectiveInvalidFirstEvent(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	objID := primitives.Hash{1}
	appendEvent(t, store, event.ObjectiveApprovedPayload{ObjectiveID: objID}, 1)
	if _, err := Objective(store, objID); err != ErrInvalidFirstEvent {
		t.Fatalf("expected ErrInvalidFirstEvent, got %v", err)
	}
}

func TestObjectiveLifecycleFold(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	objID := primitives.Hash{1}
	chID := primitives.Hash{2}

	appendEvent(t, store, event.ObjectiveCreatedPayload{
		ObjectiveID: objID, ObjectiveKind: "direct-fund", ChannelID: chID,
		Participants: []primitives.Address{{0xAA}, {0xBB}},
	}, 100)
	appendEvent(t, store, event.ObjectiveApprovedPayload{ObjectiveID: objID}, 101)
	appendEvent(t, store, event.ObjectiveCrankedPayload{ObjectiveID: objID, NumEffects: 1}, 102)
	appendEvent(t, store, event.ObjectiveCompletedPayload{ObjectiveID: objID, Success: true}, 103)

	state, err := Objective(store, objID)
	if err != nil {
		t.Fatalf("objective: %v", err)
	}
	if state.Status != ObjectiveStatusCompleted {
		t.Fatalf("expected completed, got %s", state.Status)
	}
	if !state.Terminal() {
		t.Fatalf("expected terminal state")
	}
	if state.EventCount != 4 {
		t.Fatalf("expected event count 4, got %d", state.EventCount)
	}
	if state.CreatedAt != 100 {
		t.Fatalf("expected created_at 100, got %d", state.CreatedAt)
	}
	if state.CompletedAt == nil || *state.CompletedAt != 103 {
		t.Fatalf("expected completed_at 103, got %v", state.CompletedAt)
	}
}

// TestChannelFoldIgnoresOtherEntities covers spec §4.5's filter-and-fold
// requirement: events for a different channel must not be applied.
func TestChannelFoldIgnoresOtherEntities(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	target := primitives.Hash{1}
	other := primitives.Hash{2}

	appendEvent(t, store, event.ChannelCreatedPayload{ChannelID: target}, 1)
	appendEvent(t, store, event.ChannelCreatedPayload{ChannelID: other}, 2)
	appendEvent(t, store, event.StateSignedPayload{ChannelID: other, TurnNum: 99}, 3)
	appendEvent(t, store, event.StateSignedPayload{ChannelID: target, TurnNum: 3}, 4)

	state, err := Channel(store, target)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if state.LatestTurnNum != 3 {
		t.Fatalf("expected turn 3 (not leaked from other channel), got %d", state.LatestTurnNum)
	}
	if state.EventCount != 2 {
		t.Fatalf("expected 2 events folded for target channel, got %d", state.EventCount)
	}
}

func TestChannelSupportedTurnStrictlyIncreases(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	chID := primitives.Hash{1}
	appendEvent(t, store, event.ChannelCreatedPayload{ChannelID: chID}, 1)
	appendEvent(t, store, event.StateSupportedUpdatedPayload{ChannelID: chID, PrevTurn: 0, SupportedTurn: 5, NumSignatures: 2}, 2)
	appendEvent(t, store, event.StateSupportedUpdatedPayload{ChannelID: chID, PrevTurn: 5, SupportedTurn: 3, NumSignatures: 2}, 3)

	state, err := Channel(store, chID)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if state.LatestSupportedTurn != 5 {
		t.Fatalf("expected guard to reject a non-increasing update, got %d", state.LatestSupportedTurn)
	}
}

func TestChannelFinalizedIsAbsorbing(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	chID := primitives.Hash{1}
	appendEvent(t, store, event.ChannelCreatedPayload{ChannelID: chID}, 1)
	appendEvent(t, store, event.ChannelFinalizedPayload{ChannelID: chID, FinalTurn: 3}, 2)

	state, err := Channel(store, chID)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if !state.Terminal() {
		t.Fatalf("expected finalized channel to be terminal")
	}
	if state.FinalizedAt == nil {
		t.Fatalf("expected finalized_at to be set")
	}
}

// TestReconstructFromSnapshotMatchesFromScratch covers spec §8 property 5
// and the §4.6 testable law: folding from a mid-log seed must equal
// folding the whole log from scratch.
func TestReconstructFromSnapshotMatchesFromScratch(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	chID := primitives.Hash{7}
	appendEvent(t, store, event.ChannelCreatedPayload{ChannelID: chID}, 0)
	for turn := uint64(1); turn <= 50; turn++ {
		appendEvent(t, store, event.StateSignedPayload{ChannelID: chID, TurnNum: turn}, int64(turn))
	}

	fromScratch, err := Channel(store, chID)
	if err != nil {
		t.Fatalf("from scratch: %v", err)
	}

	// Seed at offset 25: fold [0,25) to build the seed, then resume [25,len).
	seed, err := ChannelFrom(store, chID, ChannelState{}, 0, 25)
	if err != nil {
		t.Fatalf("seed fold: %v", err)
	}
	accelerated, err := ChannelFrom(store, chID, seed, 25, store.Len())
	if err != nil {
		t.Fatalf("accelerated fold: %v", err)
	}

	if fromScratch != accelerated {
		t.Fatalf("snapshot-accelerated fold diverged from from-scratch fold:\n%+v\n%+v", fromScratch, accelerated)
	}
}
