// Package objective implements the objective/crank protocol stepper
// (spec §4.7): a pure-function state machine that consumes one inbound
// event and returns an evolved objective value plus a declarative batch
// of side effects. DirectFund is the canonical instance; DirectDefund
// and ConsensusChannel share its shape (spec §9 "Polymorphism over
// protocols" — dispatch by variant, not inheritance).
//
// Every Step method takes the acting participant's *signer.Signer as an
// explicit argument rather than storing one on the objective value: the
// step remains referentially transparent (spec §8 property 8) because
// signing is deterministic given the same key and message, and the
// objective value itself carries no unexported, mutable, or I/O-bound
// state.
package objective

import (
	"errors"

	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/state"
)

// Errors returned by a Step call, per spec §4.7's invariants and §7's
// validation taxonomy.
var (
	ErrWrongChannel       = errors.New("objective: event channel does not match objective's channel")
	ErrParticipantNotFound = errors.New("objective: signer is not a participant of this channel")
	ErrUnknownWaitingFor  = errors.New("objective: no applicable transition for this status/event pair")
)

// WaitingFor summarizes the blocking condition of an objective after its
// last step. It is always a pure function of the objective's fields —
// no separate state variable is stored (spec §4.7).
type WaitingFor string

const (
	WaitingApproval         WaitingFor = "approval"
	WaitingCompletePrefund  WaitingFor = "complete_prefund"
	WaitingMyTurnToFund     WaitingFor = "my_turn_to_fund"
	WaitingCompleteFunding  WaitingFor = "complete_funding"
	WaitingCompletePostfund WaitingFor = "complete_postfund"
	WaitingNothing          WaitingFor = "nothing"
)

// Status is the coarse lifecycle stage of any protocol instance in this
// package. All three variants (DirectFund, DirectDefund, ConsensusChannel)
// reuse the same four values.
type Status string

const (
	StatusUnapproved Status = "unapproved"
	StatusApproved   Status = "approved"
	StatusComplete   Status = "complete"
	StatusRejected   Status = "rejected"
)

// InEventKind tags the inbound event variants a Step accepts.
type InEventKind string

const (
	InApprovalGranted   InEventKind = "approval_granted"
	InStateReceived     InEventKind = "state_received"
	InDepositDetected   InEventKind = "deposit_detected"
	InStateSigned       InEventKind = "state_signed"
	InWithdrawCompleted InEventKind = "withdraw_completed"
	InProposeUpdate     InEventKind = "propose_update"
)

// InEvent is the tagged-union input to a Step call. Only the fields
// relevant to Kind are populated; callers should construct it with a
// single kind in mind.
type InEvent struct {
	Kind InEventKind

	// state_received
	ChannelID primitives.Hash
	TurnNum   uint64
	From      primitives.Address
	Signature primitives.Signature

	// deposit_detected / withdraw_completed: the participant the event is
	// about (depositor or withdrawer respectively).
	Depositor primitives.Address

	// propose_update / the first state_received a follower sees for a
	// proposal: the full outcome and turn number being proposed, and the
	// leader-stamped sequence number enforcing proposal ordering.
	ProposedOutcome *state.Outcome
	NewTurnNum      uint64
	Seq             uint64
}

// SignedState bundles a channel state with a signature over its hash —
// the payload of a send_message side effect. Seq is non-zero only for
// ConsensusChannel proposal/countersignature messages.
type SignedState struct {
	State     state.State
	Signature primitives.Signature
	Seq       uint64
}

// SideEffectKind tags the declarative side-effect variants a Step can
// emit. Side effects are never executed inline; the caller's dispatch
// layer interprets them (spec §4.7).
type SideEffectKind string

const (
	SideEffectSendMessage SideEffectKind = "send_message"
	SideEffectSubmitTx    SideEffectKind = "submit_tx"
)

// SideEffect is one declarative instruction returned by a Step.
type SideEffect struct {
	Kind SideEffectKind

	// send_message
	To      []primitives.Address
	Payload SignedState

	// submit_tx
	TxTo    primitives.Address
	TxData  []byte
	TxValue []byte // big-endian uint256; opaque to this package
}

// CrankResult is the generic output of a Step: the evolved objective (by
// value — callers holding the prior value see it unchanged), the ordered
// side effects produced, and the resulting WaitingFor tag.
type CrankResult[T any] struct {
	Objective T
	Effects   []SideEffect
	Waiting   WaitingFor
}

// otherParticipants returns every participant address except self.
func otherParticipants(all []primitives.Address, self primitives.Address) []primitives.Address {
	out := make([]primitives.Address, 0, len(all))
	for _, p := range all {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// allSignaturesPresent reports whether every slot in sigs is non-nil.
func allSignaturesPresent(sigs []*primitives.Signature) bool {
	for _, s := range sigs {
		if s == nil {
			return false
		}
	}
	return true
}

// lowestUndeposited returns the lowest participant index with
// deposited[i] == false, or -1 if all have deposited.
func lowestUndeposited(deposited []bool) int {
	for i, d := range deposited {
		if !d {
			return i
		}
	}
	return -1
}

// allocationFor returns the allocation amount destined to addr within
// outcome, or nil if addr has no allocation.
func allocationFor(o state.Outcome, addr primitives.Address) []byte {
	for _, a := range o.Allocations {
		if a.Destination == addr && a.Amount != nil {
			return a.Amount.Bytes()
		}
	}
	return nil
}

// postfundTurn is the highest turn number in the DirectFund/DirectDefund
// protocol: every prefund signature is over turn 0 and every postfund
// signature is over turn 2n-1, the turn this returns (spec §4.7 "Turn
// numbering").
func postfundTurn(n int) uint64 {
	return uint64(2*n - 1)
}
