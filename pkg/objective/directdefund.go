package objective

import (
	"fmt"

	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/signer"
	"github.com/evchannel/core/pkg/state"
)

// DirectDefund is structurally identical to DirectFund with reversed
// semantics (spec §4.7 "Symmetric protocols"): sign a mutually-agreed
// final state, submit the conclusion transaction once every final
// signature is present, then observe each participant withdraw their
// share. No step observes the adjudicator recording the conclusion:
// Concluded is set when the conclusion transaction is emitted, and
// withdraw_completed events are accepted whether or not it is set.
//
// It reuses DirectFund's WaitingFor vocabulary: WaitingCompletePrefund
// stands in for "final signature round incomplete" and
// WaitingCompletePostfund for "withdrawals incomplete" — the spec
// defines one six-tag vocabulary shared across protocol variants, not a
// bespoke set per variant.
type DirectDefund struct {
	ObjectiveID  primitives.Hash
	ChannelID    primitives.Hash
	Status       Status
	MyIndex      int
	FixedPart    state.FixedPart
	FinalOutcome state.Outcome
	FinalTurnNum uint64

	FinalSignatures []*primitives.Signature
	Concluded       bool
	Withdrawn       []bool
}

// NewDirectDefund constructs the initial Unapproved objective value for
// a channel about to be cooperatively closed.
func NewDirectDefund(objectiveID, channelID primitives.Hash, fp state.FixedPart, finalOutcome state.Outcome, finalTurnNum uint64, myIndex int) (DirectDefund, error) {
	if err := fp.Validate(); err != nil {
		return DirectDefund{}, err
	}
	n := fp.N()
	if myIndex < 0 || myIndex >= n {
		return DirectDefund{}, fmt.Errorf("objective: my index %d out of range for %d participants", myIndex, n)
	}
	return DirectDefund{
		ObjectiveID:     objectiveID,
		ChannelID:       channelID,
		Status:          StatusUnapproved,
		MyIndex:         myIndex,
		FixedPart:       fp,
		FinalOutcome:    finalOutcome,
		FinalTurnNum:    finalTurnNum,
		FinalSignatures: make([]*primitives.Signature, n),
		Withdrawn:       make([]bool, n),
	}, nil
}

// WaitingFor is the pure, derived summary of what this objective is
// blocked on.
func (o DirectDefund) WaitingFor() WaitingFor {
	switch o.Status {
	case StatusComplete, StatusRejected:
		return WaitingNothing
	case StatusUnapproved:
		return WaitingApproval
	case StatusApproved:
		if !allSignaturesPresent(o.FinalSignatures) {
			return WaitingCompletePrefund
		}
		if lowestUndeposited(o.Withdrawn) != -1 {
			return WaitingCompletePostfund
		}
		return WaitingNothing
	default:
		return WaitingNothing
	}
}

func (o DirectDefund) finalState() state.State {
	return state.State{
		FixedPart: o.FixedPart,
		VariablePart: state.VariablePart{
			Outcome: o.FinalOutcome,
			TurnNum: o.FinalTurnNum,
			IsFinal: true,
		},
	}
}

func (o DirectDefund) clone() DirectDefund {
	n := o.FixedPart.N()
	c := o
	c.FinalSignatures = make([]*primitives.Signature, n)
	copy(c.FinalSignatures, o.FinalSignatures)
	c.Withdrawn = make([]bool, n)
	copy(c.Withdrawn, o.Withdrawn)
	return c
}

func unchangedDefund(o DirectDefund) CrankResult[DirectDefund] {
	return CrankResult[DirectDefund]{Objective: o, Waiting: o.WaitingFor()}
}

// Step consumes a single inbound event: approval_granted starts the
// final-signing round, state_received collects counterparty signatures
// and (once complete) submits the conclusion transaction, and
// withdraw_completed retires each participant's share until the
// objective is done.
func (o DirectDefund) Step(ev InEvent, localSigner *signer.Signer) (CrankResult[DirectDefund], error) {
	switch ev.Kind {
	case InApprovalGranted:
		return o.stepApprovalGranted(localSigner)
	case InStateReceived:
		return o.stepStateReceived(ev)
	case InWithdrawCompleted:
		return o.stepWithdrawCompleted(ev)
	case InStateSigned:
		return unchangedDefund(o), nil
	default:
		return unchangedDefund(o), fmt.Errorf("objective: unrecognized event kind %q", ev.Kind)
	}
}

func (o DirectDefund) stepApprovalGranted(localSigner *signer.Signer) (CrankResult[DirectDefund], error) {
	if o.Status != StatusUnapproved {
		return unchangedDefund(o), nil
	}
	next := o.clone()
	next.Status = StatusApproved

	final := next.finalState()
	hash, err := final.Hash()
	if err != nil {
		return unchangedDefund(o), fmt.Errorf("objective: hash final state: %w", err)
	}
	sig, err := localSigner.Sign(hash)
	if err != nil {
		return unchangedDefund(o), fmt.Errorf("objective: sign final state: %w", err)
	}
	next.FinalSignatures[next.MyIndex] = &sig

	effects := []SideEffect{{
		Kind:    SideEffectSendMessage,
		To:      otherParticipants(next.FixedPart.Participants, next.FixedPart.Participants[next.MyIndex]),
		Payload: SignedState{State: final, Signature: sig},
	}}
	return CrankResult[DirectDefund]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil
}

func (o DirectDefund) stepStateReceived(ev InEvent) (CrankResult[DirectDefund], error) {
	if ev.ChannelID != o.ChannelID {
		return unchangedDefund(o), ErrWrongChannel
	}
	if ev.TurnNum != o.FinalTurnNum {
		return unchangedDefund(o), nil
	}
	idx := o.FixedPart.ParticipantIndex(ev.From)
	if idx < 0 {
		return unchangedDefund(o), ErrParticipantNotFound
	}

	next := o.clone()
	sig := ev.Signature
	next.FinalSignatures[idx] = &sig

	var effects []SideEffect
	if allSignaturesPresent(next.FinalSignatures) && !next.Concluded {
		next.Concluded = true
		effects = append(effects, SideEffect{
			Kind: SideEffectSubmitTx,
			TxTo: next.FixedPart.AppDefinition,
		})
	}
	return CrankResult[DirectDefund]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil
}

// stepWithdrawCompleted marks the participant named in ev.Depositor
// (the field is reused here for a generic "participant who acted"
// address — see the InEvent.Depositor field comment) as having
// withdrawn their share.
func (o DirectDefund) stepWithdrawCompleted(ev InEvent) (CrankResult[DirectDefund], error) {
	if ev.ChannelID != o.ChannelID {
		return unchangedDefund(o), ErrWrongChannel
	}
	idx := o.FixedPart.ParticipantIndex(ev.Depositor)
	if idx < 0 {
		return unchangedDefund(o), ErrParticipantNotFound
	}
	next := o.clone()
	next.Withdrawn[idx] = true
	if lowestUndeposited(next.Withdrawn) == -1 {
		next.Status = StatusComplete
	}
	return CrankResult[DirectDefund]{Objective: next, Waiting: next.WaitingFor()}, nil
}
