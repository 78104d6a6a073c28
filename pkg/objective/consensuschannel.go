package objective

import (
	"errors"
	"fmt"

	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/signer"
	"github.com/evchannel/core/pkg/state"
)

// ErrNotLeader is returned when a propose_update event is delivered to a
// non-leader participant.
var ErrNotLeader = errors.New("objective: only the leader may propose a ledger update")

// ErrProposalInFlight is returned when a new proposal is requested while
// one is still awaiting countersignature.
var ErrProposalInFlight = errors.New("objective: a proposal is already awaiting countersignature")

// ErrOutOfOrderProposal is returned when an inbound proposal/ack does not
// carry the expected next sequence number.
var ErrOutOfOrderProposal = errors.New("objective: proposal sequence number out of order")

// ConsensusChannel is the leader/follower ledger-update variant (spec
// §4.7 "Symmetric protocols"): only the leader originates proposals,
// stamped with a strictly increasing sequence number; the follower
// countersigns. It reuses DirectFund's WaitingFor vocabulary:
// WaitingCompletePostfund stands in for "awaiting countersignature".
type ConsensusChannel struct {
	ObjectiveID primitives.Hash
	ChannelID   primitives.Hash
	FixedPart   state.FixedPart
	MyIndex     int
	IsLeader    bool

	CurrentOutcome state.Outcome
	CurrentTurnNum uint64
	NextSeq        uint64

	ProposalPending    bool
	ProposedOutcome    state.Outcome
	ProposedTurnNum    uint64
	ProposedSeq        uint64
	ProposalSignatures []*primitives.Signature
}

// NewConsensusChannel constructs the initial ConsensusChannel objective,
// already holding currentOutcome/currentTurnNum as its agreed baseline.
func NewConsensusChannel(objectiveID, channelID primitives.Hash, fp state.FixedPart, currentOutcome state.Outcome, currentTurnNum uint64, myIndex int, isLeader bool) (ConsensusChannel, error) {
	if err := fp.Validate(); err != nil {
		return ConsensusChannel{}, err
	}
	n := fp.N()
	if myIndex < 0 || myIndex >= n {
		return ConsensusChannel{}, fmt.Errorf("objective: my index %d out of range for %d participants", myIndex, n)
	}
	return ConsensusChannel{
		ObjectiveID:    objectiveID,
		ChannelID:      channelID,
		FixedPart:      fp,
		MyIndex:        myIndex,
		IsLeader:       isLeader,
		CurrentOutcome: currentOutcome,
		CurrentTurnNum: currentTurnNum,
	}, nil
}

// WaitingFor is the pure, derived summary of what this objective is
// blocked on: nothing when no proposal is pending, otherwise awaiting
// the countersignature round to close.
func (o ConsensusChannel) WaitingFor() WaitingFor {
	if !o.ProposalPending {
		return WaitingNothing
	}
	return WaitingCompletePostfund
}

func (o ConsensusChannel) clone() ConsensusChannel {
	c := o
	if o.ProposalSignatures != nil {
		c.ProposalSignatures = make([]*primitives.Signature, len(o.ProposalSignatures))
		copy(c.ProposalSignatures, o.ProposalSignatures)
	}
	return c
}

func unchangedConsensus(o ConsensusChannel) CrankResult[ConsensusChannel] {
	return CrankResult[ConsensusChannel]{Objective: o, Waiting: o.WaitingFor()}
}

func (o ConsensusChannel) proposedState() state.State {
	return state.State{
		FixedPart:    o.FixedPart,
		VariablePart: state.VariablePart{Outcome: o.ProposedOutcome, TurnNum: o.ProposedTurnNum},
	}
}

// Step consumes a single inbound event: propose_update (leader only)
// originates a new proposal, and state_received both delivers an
// inbound proposal to the follower and carries countersignatures back
// to the leader, disambiguated by whether a proposal is already pending.
func (o ConsensusChannel) Step(ev InEvent, localSigner *signer.Signer) (CrankResult[ConsensusChannel], error) {
	switch ev.Kind {
	case InProposeUpdate:
		return o.stepProposeUpdate(ev, localSigner)
	case InStateReceived:
		return o.stepStateReceived(ev, localSigner)
	case InStateSigned:
		return unchangedConsensus(o), nil
	default:
		return unchangedConsensus(o), fmt.Errorf("objective: unrecognized event kind %q", ev.Kind)
	}
}

func (o ConsensusChannel) stepProposeUpdate(ev InEvent, localSigner *signer.Signer) (CrankResult[ConsensusChannel], error) {
	if !o.IsLeader {
		return unchangedConsensus(o), ErrNotLeader
	}
	if o.ProposalPending {
		return unchangedConsensus(o), ErrProposalInFlight
	}
	if ev.ProposedOutcome == nil {
		return unchangedConsensus(o), fmt.Errorf("objective: propose_update requires a proposed outcome")
	}

	next := o.clone()
	next.ProposalPending = true
	next.ProposedOutcome = *ev.ProposedOutcome
	next.ProposedTurnNum = ev.NewTurnNum
	next.NextSeq++
	next.ProposedSeq = next.NextSeq
	next.ProposalSignatures = make([]*primitives.Signature, next.FixedPart.N())

	proposed := next.proposedState()
	hash, err := proposed.Hash()
	if err != nil {
		return unchangedConsensus(o), fmt.Errorf("objective: hash proposed state: %w", err)
	}
	sig, err := localSigner.Sign(hash)
	if err != nil {
		return unchangedConsensus(o), fmt.Errorf("objective: sign proposed state: %w", err)
	}
	next.ProposalSignatures[next.MyIndex] = &sig

	effects := []SideEffect{{
		Kind:    SideEffectSendMessage,
		To:      otherParticipants(next.FixedPart.Participants, next.FixedPart.Participants[next.MyIndex]),
		Payload: SignedState{State: proposed, Signature: sig, Seq: next.ProposedSeq},
	}}
	return CrankResult[ConsensusChannel]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil
}

func (o ConsensusChannel) stepStateReceived(ev InEvent, localSigner *signer.Signer) (CrankResult[ConsensusChannel], error) {
	if ev.ChannelID != o.ChannelID {
		return unchangedConsensus(o), ErrWrongChannel
	}
	idx := o.FixedPart.ParticipantIndex(ev.From)
	if idx < 0 {
		return unchangedConsensus(o), ErrParticipantNotFound
	}

	if !o.ProposalPending {
		return o.acceptInboundProposal(ev, idx, localSigner)
	}
	return o.recordCountersignature(ev, idx)
}

// acceptInboundProposal is the follower path: a new proposal arrives
// from the leader, carrying the full proposed state and the leader's
// signature over it.
func (o ConsensusChannel) acceptInboundProposal(ev InEvent, leaderIdx int, localSigner *signer.Signer) (CrankResult[ConsensusChannel], error) {
	if ev.ProposedOutcome == nil {
		return unchangedConsensus(o), fmt.Errorf("objective: inbound proposal requires a proposed outcome")
	}
	if ev.Seq != o.NextSeq+1 {
		return unchangedConsensus(o), ErrOutOfOrderProposal
	}

	next := o.clone()
	next.ProposalPending = true
	next.ProposedOutcome = *ev.ProposedOutcome
	next.ProposedTurnNum = ev.NewTurnNum
	next.NextSeq = ev.Seq
	next.ProposedSeq = ev.Seq
	next.ProposalSignatures = make([]*primitives.Signature, next.FixedPart.N())
	leaderSig := ev.Signature
	next.ProposalSignatures[leaderIdx] = &leaderSig

	proposed := next.proposedState()
	hash, err := proposed.Hash()
	if err != nil {
		return unchangedConsensus(o), fmt.Errorf("objective: hash proposed state: %w", err)
	}
	mySig, err := localSigner.Sign(hash)
	if err != nil {
		return unchangedConsensus(o), fmt.Errorf("objective: sign proposed state: %w", err)
	}
	next.ProposalSignatures[next.MyIndex] = &mySig

	effects := []SideEffect{{
		Kind:    SideEffectSendMessage,
		To:      []primitives.Address{next.FixedPart.Participants[leaderIdx]},
		Payload: SignedState{State: proposed, Signature: mySig, Seq: next.ProposedSeq},
	}}

	if allSignaturesPresent(next.ProposalSignatures) {
		next.CurrentOutcome = next.ProposedOutcome
		next.CurrentTurnNum = next.ProposedTurnNum
		next.clearProposal()
	}
	return CrankResult[ConsensusChannel]{Objective: next, Effects: effects, Waiting: next.WaitingFor()}, nil
}

// recordCountersignature is the leader path: the follower's ack arrives
// for the currently pending proposal.
func (o ConsensusChannel) recordCountersignature(ev InEvent, followerIdx int) (CrankResult[ConsensusChannel], error) {
	if ev.Seq != o.ProposedSeq {
		return unchangedConsensus(o), ErrOutOfOrderProposal
	}
	next := o.clone()
	sig := ev.Signature
	next.ProposalSignatures[followerIdx] = &sig

	if allSignaturesPresent(next.ProposalSignatures) {
		next.CurrentOutcome = next.ProposedOutcome
		next.CurrentTurnNum = next.ProposedTurnNum
		next.clearProposal()
	}
	return CrankResult[ConsensusChannel]{Objective: next, Waiting: next.WaitingFor()}, nil
}

func (o *ConsensusChannel) clearProposal() {
	o.ProposalPending = false
	o.ProposedOutcome = state.Outcome{}
	o.ProposedTurnNum = 0
	o.ProposedSeq = 0
	o.ProposalSignatures = nil
}
