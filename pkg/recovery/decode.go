package recovery

import (
	"encoding/json"
	"fmt"

	"github.com/evchannel/core/pkg/reconstruct"
)

func decodeObjectiveSnapshot(raw json.RawMessage) (reconstruct.ObjectiveState, error) {
	var s reconstruct.ObjectiveState
	if err := json.Unmarshal(raw, &s); err != nil {
		return reconstruct.ObjectiveState{}, fmt.Errorf("recovery: decode objective snapshot: %w", err)
	}
	return s, nil
}

func decodeChannelSnapshot(raw json.RawMessage) (reconstruct.ChannelState, error) {
	var s reconstruct.ChannelState
	if err := json.Unmarshal(raw, &s); err != nil {
		return reconstruct.ChannelState{}, fmt.Errorf("recovery: decode channel snapshot: %w", err)
	}
	return s, nil
}
