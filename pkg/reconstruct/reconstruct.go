// Package reconstruct implements the fold-based state reconstruction
// engine (spec §4.5): typed entity state — Objective or Channel — is a
// deterministic left fold over exactly the events carrying that
// entity's identifier, optionally seeded from a snapshot.
//
// The single-pass filter-and-fold discipline mirrors teacher
// pkg/ledger.LedgerStore's read path: no precomputed index is
// maintained here deliberately, matching the reference behavior of
// scanning the log directly (spec §4.8 makes the same tradeoff
// explicit for validation).
package reconstruct

import (
	"errors"
	"fmt"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/primitives"
)

// Errors surfaced by reconstruction, per spec §4.5/§7's Not-found and
// Validation taxonomies.
var (
	ErrNotFound          = errors.New("reconstruct: entity not found")
	ErrInvalidFirstEvent = errors.New("reconstruct: first event for entity is not a creation event")
)

// ObjectiveStatus is the status field of an Objective's folded state.
type ObjectiveStatus string

const (
	ObjectiveStatusCreated   ObjectiveStatus = "created"
	ObjectiveStatusApproved  ObjectiveStatus = "approved"
	ObjectiveStatusRejected  ObjectiveStatus = "rejected"
	ObjectiveStatusCranked   ObjectiveStatus = "cranked"
	ObjectiveStatusCompleted ObjectiveStatus = "completed"
)

// ObjectiveState is the materialized view of an objective entity.
type ObjectiveState struct {
	ID          primitives.Hash `json:"id"`
	Status      ObjectiveStatus `json:"status"`
	EventCount  int             `json:"event_count"`
	CreatedAt   int64           `json:"created_at"`
	CompletedAt *int64          `json:"completed_at,omitempty"`
}

// Terminal reports whether the objective has reached a state from which
// no further step is expected (spec §4.5 table).
func (s ObjectiveState) Terminal() bool {
	return s.Status == ObjectiveStatusCompleted || s.Status == ObjectiveStatusRejected
}

// ChannelStatus is the status field of a Channel's folded state.
type ChannelStatus string

const (
	ChannelStatusCreated   ChannelStatus = "created"
	ChannelStatusOpen      ChannelStatus = "open"
	ChannelStatusFinalized ChannelStatus = "finalized"
)

// ChannelState is the materialized view of a channel entity.
type ChannelState struct {
	ID                  primitives.Hash `json:"id"`
	Status              ChannelStatus   `json:"status"`
	LatestTurnNum       uint64          `json:"latest_turn_num"`
	LatestSupportedTurn uint64          `json:"latest_supported_turn"`
	EventCount          int             `json:"event_count"`
	FinalizedAt         *int64          `json:"finalized_at,omitempty"`
}

// Terminal reports whether the channel has reached its absorbing state.
func (s ChannelState) Terminal() bool {
	return s.Status == ChannelStatusFinalized
}

// ApplyObjective folds a single event into state. It is pure and total:
// event kinds the objective lifecycle does not own are skipped. It is
// exported so the snapshot-acceleration path and the plain from-scratch
// path share one implementation (spec §4.6's testable law depends on
// this: both paths must apply events identically).
func ApplyObjective(state ObjectiveState, ev *event.Event) ObjectiveState {
	switch p := ev.Payload.(type) {
	case event.ObjectiveCreatedPayload:
		state.ID = p.ObjectiveID
		state.Status = ObjectiveStatusCreated
		state.CreatedAt = ev.Timestamp
	case event.ObjectiveApprovedPayload:
		state.Status = ObjectiveStatusApproved
	case event.ObjectiveRejectedPayload:
		state.Status = ObjectiveStatusRejected
		t := ev.Timestamp
		state.CompletedAt = &t
	case event.ObjectiveCrankedPayload:
		state.Status = ObjectiveStatusCranked
	case event.ObjectiveCompletedPayload:
		state.Status = ObjectiveStatusCompleted
		t := ev.Timestamp
		state.CompletedAt = &t
	}
	state.EventCount++
	return state
}

// ApplyChannel folds a single event into state, per spec §4.5's apply
// semantics: latest_turn_num takes the max observed, and the supported
// turn only ever moves forward.
func ApplyChannel(state ChannelState, ev *event.Event) ChannelState {
	switch p := ev.Payload.(type) {
	case event.ChannelCreatedPayload:
		state.ID = p.ChannelID
		state.Status = ChannelStatusCreated
	case event.StateSignedPayload:
		if p.TurnNum > state.LatestTurnNum {
			state.LatestTurnNum = p.TurnNum
		}
		if state.Status == ChannelStatusCreated {
			state.Status = ChannelStatusOpen
		}
	case event.StateReceivedPayload:
		if p.TurnNum > state.LatestTurnNum {
			state.LatestTurnNum = p.TurnNum
		}
		if state.Status == ChannelStatusCreated {
			state.Status = ChannelStatusOpen
		}
	case event.StateSupportedUpdatedPayload:
		// Event construction does not check supported_turn > prev_turn,
		// so this guard is what keeps the supported turn from moving
		// backwards (spec §4.5).
		if p.SupportedTurn > state.LatestSupportedTurn {
			state.LatestSupportedTurn = p.SupportedTurn
		}
		if state.Status == ChannelStatusCreated {
			state.Status = ChannelStatusOpen
		}
	case event.ChannelFinalizedPayload:
		state.Status = ChannelStatusFinalized
		t := ev.Timestamp
		state.FinalizedAt = &t
	}
	state.EventCount++
	return state
}

// entityEvents performs the single-pass filter over [start, end),
// returning only events whose payload carries entityID. Non-carrying
// payloads (e.g. messaging events) are skipped, never matched.
func entityEvents(store eventstore.Store, entityID primitives.Hash, start, end uint64) ([]*event.Event, error) {
	all, err := store.ReadRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: read range: %w", err)
	}
	out := make([]*event.Event, 0)
	for _, ev := range all {
		carrier, ok := ev.Payload.(event.EntityCarrier)
		if !ok {
			continue
		}
		if primitives.Hash(carrier.EntityID()) == entityID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Objective folds the full log for objectiveID from scratch.
func Objective(store eventstore.Store, objectiveID primitives.Hash) (ObjectiveState, error) {
	return ObjectiveFrom(store, objectiveID, ObjectiveState{}, 0, store.Len())
}

// ObjectiveFrom folds events in [start, end) onto a seed state — the
// snapshot-acceleration entry point (spec §4.6): callers pass the
// deserialized snapshot state and its offset as the seed and start.
func ObjectiveFrom(store eventstore.Store, objectiveID primitives.Hash, seed ObjectiveState, start, end uint64) (ObjectiveState, error) {
	evs, err := entityEvents(store, objectiveID, start, end)
	if err != nil {
		return ObjectiveState{}, err
	}
	if start == 0 && len(evs) == 0 {
		return ObjectiveState{}, ErrNotFound
	}
	if start == 0 {
		if _, ok := evs[0].Payload.(event.ObjectiveCreatedPayload); !ok {
			return ObjectiveState{}, ErrInvalidFirstEvent
		}
	}
	state := seed
	for _, ev := range evs {
		state = ApplyObjective(state, ev)
	}
	return state, nil
}

// Channel folds the full log for channelID from scratch.
func Channel(store eventstore.Store, channelID primitives.Hash) (ChannelState, error) {
	return ChannelFrom(store, channelID, ChannelState{}, 0, store.Len())
}

// ChannelFrom folds events in [start, end) onto a seed state.
func ChannelFrom(store eventstore.Store, channelID primitives.Hash, seed ChannelState, start, end uint64) (ChannelState, error) {
	evs, err := entityEvents(store, channelID, start, end)
	if err != nil {
		return ChannelState{}, err
	}
	if start == 0 && len(evs) == 0 {
		return ChannelState{}, ErrNotFound
	}
	if start == 0 {
		if _, ok := evs[0].Payload.(event.ChannelCreatedPayload); !ok {
			return ChannelState{}, ErrInvalidFirstEvent
		}
	}
	state := seed
	for _, ev := range evs {
		state = ApplyChannel(state, ev)
	}
	return state, nil
}
