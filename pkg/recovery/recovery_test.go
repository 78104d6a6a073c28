package recovery

import (
	"testing"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/kvdb"
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/reconstruct"
	"github.com/evchannel/core/pkg/snapshot"
)

func appendR(t *testing.T, store eventstore.Store, p event.Payload, ts int64) {
	t.Helper()
	ev, err := event.New(p, ts)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if _, err := store.Append(ev); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRecoverChannelWithoutSnapshot(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	mgr := snapshot.NewManager(kvdb.NewMemory())
	chID := primitives.Hash{1}
	appendR(t, store, event.ChannelCreatedPayload{ChannelID: chID}, 1)
	appendR(t, store, event.StateSignedPayload{ChannelID: chID, TurnNum: 5}, 2)

	state, err := RecoverChannel(store, mgr, chID)
	if err != nil {
		t.Fatalf("recover channel: %v", err)
	}
	if state.LatestTurnNum != 5 {
		t.Fatalf("expected turn 5, got %d", state.LatestTurnNum)
	}
}

func TestRecoverChannelWithSnapshotAcceleration(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	mgr := snapshot.NewManager(kvdb.NewMemory())
	chID := primitives.Hash{2}

	appendR(t, store, event.ChannelCreatedPayload{ChannelID: chID}, 0)
	for turn := uint64(1); turn <= 20; turn++ {
		appendR(t, store, event.StateSignedPayload{ChannelID: chID, TurnNum: turn}, int64(turn))
	}
	seed, err := reconstruct.ChannelFrom(store, chID, reconstruct.ChannelState{}, 0, 10)
	if err != nil {
		t.Fatalf("seed fold: %v", err)
	}
	if err := mgr.Save(chID, 10, seed); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	recovered, err := RecoverChannel(store, mgr, chID)
	if err != nil {
		t.Fatalf("recover channel: %v", err)
	}
	fromScratch, err := reconstruct.Channel(store, chID)
	if err != nil {
		t.Fatalf("from scratch: %v", err)
	}
	if recovered != fromScratch {
		t.Fatalf("recovered state diverged from from-scratch fold:\n%+v\n%+v", recovered, fromScratch)
	}
}

func TestRecoverObjectiveWithoutSnapshot(t *testing.T) {
	store := eventstore.NewMemoryStore(0)
	mgr := snapshot.NewManager(kvdb.NewMemory())
	objID := primitives.Hash{3}
	appendR(t, store, event.ObjectiveCreatedPayload{ObjectiveID: objID}, 1)
	appendR(t, store, event.ObjectiveApprovedPayload{ObjectiveID: objID}, 2)

	state, err := RecoverObjective(store, mgr, objID)
	if err != nil {
		t.Fatalf("recover objective: %v", err)
	}
	if state.Status != reconstruct.ObjectiveStatusApproved {
		t.Fatalf("expected approved, got %s", state.Status)
	}
}
