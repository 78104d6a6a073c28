package objective

import (
	"fmt"

	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/signer"
	"github.com/evchannel/core/pkg/state"
)

// DirectFund is the canonical objective (spec §4.7): it drives a channel
// from unfunded to postfund-exchanged by coordinating mutual prefund
// signing, per-participant deposits in index order, and mutual postfund
// signing.
//
// All slice fields are always len == FixedPart.N(); a nil slot means
// "not yet present/done". Step never mutates o or its backing arrays —
// every transition builds and returns a fresh copy.
type DirectFund struct {
	ObjectiveID   primitives.Hash
	ChannelID     primitives.Hash
	Status        Status
	MyIndex       int
	FixedPart     state.FixedPart
	TargetOutcome state.Outcome

	PrefundSignatures  []*primitives.Signature
	PostfundSignatures []*primitives.Signature
	Deposited          []bool
}

// NewDirectFund constructs the initial Unapproved objective value for a
// channel about to be funded.
func NewDirectFund(objectiveID, channelID primitives.Hash, fp state.FixedPart, targetOutcome state.Outcome, myIndex int) (DirectFund, error) {
	if err := fp.Validate(); err != nil {
		return DirectFund{}, err
	}
	n := fp.N()
	if myIndex < 0 || myIndex >= n {
		return DirectFund{}, fmt.Errorf("objective: my index %d out of range for %d participants", myIndex, n)
	}
	return DirectFund{
		ObjectiveID:        objectiveID,
		ChannelID:          channelID,
		Status:             StatusUnapproved,
		MyIndex:            myIndex,
		FixedPart:          fp,
		TargetOutcome:      targetOutcome,
		PrefundSignatures:  make([]*primitives.Signature, n),
		PostfundSignatures: make([]*primitives.Signature, n),
		Deposited:          make([]bool, n),
	}, nil
}

// WaitingFor is the pure, derived summary of what this objective is
// currently blocked on (spec §4.7) — a function of signatures present,
// deposits seen and status, never a stored FSM variable.
func (o DirectFund) WaitingFor() WaitingFor {
	switch o.Status {
	case StatusComplete, StatusRejected:
		return WaitingNothing
	case StatusUnapproved:
		return WaitingApproval
	case StatusApproved:
		if !allSignaturesPresent(o.PrefundSignatures) {
			return WaitingCompletePrefund
		}
		if idx := lowestUndeposited(o.Deposited); idx != -1 {
			if idx == o.MyIndex {
				return WaitingMyTurnToFund
			}
			return WaitingCompleteFunding
		}
		if !allSignaturesPresent(o.PostfundSignatures) {
			return WaitingCompletePostfund
		}
		return WaitingNothing
	default:
		return WaitingNothing
	}
}

func (o DirectFund) prefundState() state.State {
	return state.State{
		FixedPart: o.FixedPart,
		VariablePart: state.VariablePart{
			Outcome: state.Outcome{Asset: o.TargetOutcome.Asset},
			TurnNum: 0,
		},
	}
}

func (o DirectFund) postfundState() state.State {
	return state.State{
		FixedPart: o.FixedPart,
		VariablePart: state.VariablePart{
			Outcome: o.TargetOutcome,
			TurnNum: postfundTurn(o.FixedPart.N()),
		},
	}
}

// clone returns a deep-enough copy of o: fresh backing arrays for every
// slice field, so mutating the copy never affects o.
func (o DirectFund) clone() DirectFund {
	n := o.FixedPart.N()
	c := o
	c.PrefundSignatures = make([]*primitives.Signature, n)
	copy(c.PrefundSignatures, o.PrefundSignatures)
	c.PostfundSignatures = make([]*primitives.Signature, n)
	copy(c.PostfundSignatures, o.PostfundSignatures)
	c.Deposited = make([]bool, n)
	copy(c.Deposited, o.Deposited)
	return c
}

func unchanged(o DirectFund) CrankResult[DirectFund] {
	return CrankResult[DirectFund]{Objective: o, Waiting: o.WaitingFor()}
}

// Step consumes a single inbound event and returns the evolved objective
// plus any side effects, per spec §4.7's four-stage flow. localSigner
// signs on this participant's behalf whenever this step requires a local
// signature; it is never stored on the returned objective value.
func (o DirectFund) Step(ev InEvent, localSigner *signer.Signer) (CrankResult[DirectFund], error) {
	switch ev.Kind {
	case InApprovalGranted:
		return o.stepApprovalGranted(localSigner)
	case InStateReceived:
		return o.stepStateReceived(ev, localSigner)
	case InDepositDetected:
		return o.stepDepositDetected(ev, localSigner)
	case InStateSigned:
		// Local self-notification; signing already happened inline in the
		// step that produced it, so this is a no-op (spec §4.7 "Inputs").
		return unchanged(o), nil
	default:
		return unchanged(o), fmt.Errorf("objective: unrecognized event kind %q", ev.Kind)
	}
}

// stepApprovalGranted implements flow stage 1.
func (o DirectFund) stepApprovalGranted(localSigner *signer.Signer) (CrankResult[DirectFund], error) {
	if o.Status != StatusUnapproved {
		return unchanged(o), nil
	}
	next := o.clone()
	next.Status = StatusApproved

	prefund := next.prefundState()
	hash, err := prefund.Hash()
	if err != nil {
		return unchanged(o), fmt.Errorf("objective: hash prefund state: %w", err)
	}
	sig, err := localSigner.Sign(hash)
	if err != nil {
		return unchanged(o), fmt.Errorf("objective: sign prefund state: %w", err)
	}
	next.PrefundSignatures[next.MyIndex] = &sig

	effects := []SideEffect{{
		Kind:    SideEffectSendMessage,
		To:      otherParticipants(next.FixedPart.Participants, next.FixedPart.Participants[next.MyIndex]),
		Payload: SignedState{State: prefund, Signature: sig},
	}}
	return CrankResult[DirectFund]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil
}

// stepStateReceived implements flow stages 2 and 4 (prefund and postfund
// counterparty signature receipt, keyed by turn number).
func (o DirectFund) stepStateReceived(ev InEvent, localSigner *signer.Signer) (CrankResult[DirectFund], error) {
	if ev.ChannelID != o.ChannelID {
		return unchanged(o), ErrWrongChannel
	}
	idx := o.FixedPart.ParticipantIndex(ev.From)
	if idx < 0 {
		return unchanged(o), ErrParticipantNotFound
	}

	n := o.FixedPart.N()
	sig := ev.Signature
	next := o.clone()

	switch ev.TurnNum {
	case 0:
		next.PrefundSignatures[idx] = &sig
		var effects []SideEffect
		if allSignaturesPresent(next.PrefundSignatures) && lowestUndeposited(next.Deposited) == next.MyIndex {
			effects = append(effects, next.depositSideEffect())
		}
		return CrankResult[DirectFund]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil

	case postfundTurn(n):
		next.PostfundSignatures[idx] = &sig
		if allSignaturesPresent(next.PostfundSignatures) {
			next.Status = StatusComplete
		}
		return CrankResult[DirectFund]{Objective: next, Waiting: next.WaitingFor()}, nil

	default:
		return unchanged(o), nil
	}
}

// stepDepositDetected implements flow stage 3.
func (o DirectFund) stepDepositDetected(ev InEvent, localSigner *signer.Signer) (CrankResult[DirectFund], error) {
	if ev.ChannelID != o.ChannelID {
		return unchanged(o), ErrWrongChannel
	}
	idx := o.FixedPart.ParticipantIndex(ev.Depositor)
	if idx < 0 {
		return unchanged(o), ErrParticipantNotFound
	}

	next := o.clone()
	next.Deposited[idx] = true

	var effects []SideEffect
	if lowestUndeposited(next.Deposited) == next.MyIndex && !next.Deposited[next.MyIndex] {
		effects = append(effects, next.depositSideEffect())
	}

	if lowestUndeposited(next.Deposited) == -1 && next.PostfundSignatures[next.MyIndex] == nil {
		postfund := next.postfundState()
		hash, err := postfund.Hash()
		if err != nil {
			return unchanged(o), fmt.Errorf("objective: hash postfund state: %w", err)
		}
		sig, err := localSigner.Sign(hash)
		if err != nil {
			return unchanged(o), fmt.Errorf("objective: sign postfund state: %w", err)
		}
		next.PostfundSignatures[next.MyIndex] = &sig
		effects = append(effects, SideEffect{
			Kind:    SideEffectSendMessage,
			To:      otherParticipants(next.FixedPart.Participants, next.FixedPart.Participants[next.MyIndex]),
			Payload: SignedState{State: postfund, Signature: sig},
		})
		if allSignaturesPresent(next.PostfundSignatures) {
			next.Status = StatusComplete
		}
	}

	return CrankResult[DirectFund]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil
}

// depositSideEffect builds the submit_tx side effect for this
// participant's own funding deposit, per spec §4.7 stage 2/3.
func (o DirectFund) depositSideEffect() SideEffect {
	me := o.FixedPart.Participants[o.MyIndex]
	amount := allocationFor(o.TargetOutcome, me)
	return SideEffect{
		Kind:    SideEffectSubmitTx,
		TxTo:    o.FixedPart.AppDefinition,
		TxValue: amount,
	}
}
