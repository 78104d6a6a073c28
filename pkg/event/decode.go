package event

import (
	"encoding/json"
	"fmt"
)

// DecodePayload reconstructs a concrete Payload from its Kind and JSON
// encoding. It is the read-side counterpart of the closed Kind switch in
// Event's constructors: exactly the ~20 payload types above are legal,
// never a generic map-based fallback. Durable Store implementations that
// persist events as (kind, json) pairs — pkg/eventstore/sqlstore — use
// this to rehydrate an Event on read.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindObjectiveCreated:
		var v ObjectiveCreatedPayload
		p = &v
	case KindObjectiveApproved:
		var v ObjectiveApprovedPayload
		p = &v
	case KindObjectiveRejected:
		var v ObjectiveRejectedPayload
		p = &v
	case KindObjectiveCranked:
		var v ObjectiveCrankedPayload
		p = &v
	case KindObjectiveCompleted:
		var v ObjectiveCompletedPayload
		p = &v
	case KindChannelCreated:
		var v ChannelCreatedPayload
		p = &v
	case KindStateSigned:
		var v StateSignedPayload
		p = &v
	case KindStateReceived:
		var v StateReceivedPayload
		p = &v
	case KindStateSupportedUpdated:
		var v StateSupportedUpdatedPayload
		p = &v
	case KindChannelFinalized:
		var v ChannelFinalizedPayload
		p = &v
	case KindDepositDetected:
		var v DepositDetectedPayload
		p = &v
	case KindAllocationUpdated:
		var v AllocationUpdatedPayload
		p = &v
	case KindChallengeRegistered:
		var v ChallengeRegisteredPayload
		p = &v
	case KindChallengeCleared:
		var v ChallengeClearedPayload
		p = &v
	case KindChannelConcluded:
		var v ChannelConcludedPayload
		p = &v
	case KindWithdrawCompleted:
		var v WithdrawCompletedPayload
		p = &v
	case KindMessageSent:
		var v MessageSentPayload
		p = &v
	case KindMessageReceived:
		var v MessageReceivedPayload
		p = &v
	case KindMessageAcked:
		var v MessageAckedPayload
		p = &v
	case KindMessageDropped:
		var v MessageDroppedPayload
		p = &v
	default:
		return nil, fmt.Errorf("event: unknown payload kind %q", kind)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("event: decode %s payload: %w", kind, err)
	}
	return derefPayload(p), nil
}

// derefPayload unwraps the pointer DecodePayload builds into the value
// type every Kind()/EntityID() method above is defined on, so callers
// get back exactly the type event.New would have produced.
func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *ObjectiveCreatedPayload:
		return *v
	case *ObjectiveApprovedPayload:
		return *v
	case *ObjectiveRejectedPayload:
		return *v
	case *ObjectiveCrankedPayload:
		return *v
	case *ObjectiveCompletedPayload:
		return *v
	case *ChannelCreatedPayload:
		return *v
	case *StateSignedPayload:
		return *v
	case *StateReceivedPayload:
		return *v
	case *StateSupportedUpdatedPayload:
		return *v
	case *ChannelFinalizedPayload:
		return *v
	case *DepositDetectedPayload:
		return *v
	case *AllocationUpdatedPayload:
		return *v
	case *ChallengeRegisteredPayload:
		return *v
	case *ChallengeClearedPayload:
		return *v
	case *ChannelConcludedPayload:
		return *v
	case *WithdrawCompletedPayload:
		return *v
	case *MessageSentPayload:
		return *v
	case *MessageReceivedPayload:
		return *v
	case *MessageAckedPayload:
		return *v
	case *MessageDroppedPayload:
		return *v
	default:
		return p
	}
}
