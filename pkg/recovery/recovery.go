// Package recovery implements the startup recovery driver (spec §4.9):
// load the newest snapshot for each tracked entity (if any), replay the
// tail of the event log past its offset, and hand the restored state to
// the caller's in-memory index. Replay is strictly a read path — it
// emits no side effects and no subscriber notifications.
package recovery

import (
	"errors"
	"fmt"

	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/reconstruct"
	"github.com/evchannel/core/pkg/snapshot"
)

// RecoverObjective restores an ObjectiveState from the newest available
// snapshot (if any) plus tail replay, per spec §4.9. It never blocks on
// anything but the store/snapshot manager it is given, and produces no
// observable side effects.
func RecoverObjective(store eventstore.Store, snapshots *snapshot.Manager, objectiveID primitives.Hash) (reconstruct.ObjectiveState, error) {
	target := store.Len()
	offset, raw, err := snapshots.LatestAtOrBefore(objectiveID, target)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return reconstruct.Objective(store, objectiveID)
		}
		return reconstruct.ObjectiveState{}, fmt.Errorf("recovery: load objective snapshot: %w", err)
	}
	seed, err := decodeObjectiveSnapshot(raw)
	if err != nil {
		return reconstruct.ObjectiveState{}, err
	}
	return reconstruct.ObjectiveFrom(store, objectiveID, seed, offset, target)
}

// RecoverChannel restores a ChannelState from the newest available
// snapshot (if any) plus tail replay.
func RecoverChannel(store eventstore.Store, snapshots *snapshot.Manager, channelID primitives.Hash) (reconstruct.ChannelState, error) {
	target := store.Len()
	offset, raw, err := snapshots.LatestAtOrBefore(channelID, target)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return reconstruct.Channel(store, channelID)
		}
		return reconstruct.ChannelState{}, fmt.Errorf("recovery: load channel snapshot: %w", err)
	}
	seed, err := decodeChannelSnapshot(raw)
	if err != nil {
		return reconstruct.ChannelState{}, err
	}
	return reconstruct.ChannelFrom(store, channelID, seed, offset, target)
}
