// Package state implements the channel state data model: the
// FixedPart/VariablePart/Outcome/Allocation types, packed-ABI-compatible
// channel identifier derivation, and state hashing. The encoding here is
// byte-identical to what the on-chain adjudicator computes from the same
// fields (spec §4.3), which is what lets an off-chain signature over a
// state hash be verified by the contract.
package state

import (
	"errors"
	"math/big"

	"github.com/evchannel/core/pkg/abi"
	"github.com/evchannel/core/pkg/primitives"
)

// Errors returned by FixedPart/State construction and validation.
var (
	ErrNoParticipants      = errors.New("state: participant list must be non-empty")
	ErrTooManyParticipants = errors.New("state: participant list exceeds 255 entries")
	ErrZeroChallenge       = errors.New("state: challenge duration must be at least 1 second")
	ErrAmountOverflow      = errors.New("state: allocation amount overflows uint256")
)

// AllocationKind distinguishes a plain payout from a virtual-channel
// funding guarantee. The core treats guarantees structurally only; it
// never evaluates the guarantee's target.
type AllocationKind uint8

const (
	AllocationSimple AllocationKind = iota
	AllocationGuarantee
)

// Allocation is a single payout entry within an Outcome.
type Allocation struct {
	Destination primitives.Address
	Amount      *big.Int
	Kind        AllocationKind
	Metadata    []byte
}

// Outcome is a single asset's ordered allocation list.
type Outcome struct {
	Asset       primitives.Address
	Allocations []Allocation
}

// TotalAllocated sums every allocation's amount for this outcome's asset.
func (o Outcome) TotalAllocated() *big.Int {
	sum := new(big.Int)
	for _, a := range o.Allocations {
		if a.Amount != nil {
			sum.Add(sum, a.Amount)
		}
	}
	return sum
}

// FixedPart is the immutable identity portion of a channel: the
// participant list (order is load-bearing — participants[t mod n] signs
// turn t), a nonce disambiguating channels with the same participant
// set, the application-definition address and the challenge duration.
type FixedPart struct {
	Participants      []primitives.Address
	ChannelNonce      uint64
	AppDefinition     primitives.Address
	ChallengeDuration uint32
}

// Validate enforces the construction-time invariants from spec §4.3:
// a non-empty participant list no longer than 255 entries, and a
// challenge duration of at least one second.
func (f FixedPart) Validate() error {
	n := len(f.Participants)
	if n == 0 {
		return ErrNoParticipants
	}
	if n > 255 {
		return ErrTooManyParticipants
	}
	if f.ChallengeDuration < 1 {
		return ErrZeroChallenge
	}
	return nil
}

// N returns the number of participants.
func (f FixedPart) N() int { return len(f.Participants) }

// Signer returns the participant expected to sign the given turn number.
func (f FixedPart) Signer(turnNum uint64) primitives.Address {
	return f.Participants[int(turnNum%uint64(f.N()))]
}

// encode produces the packed encoding of the fixed part in the exact
// field order the adjudicator hashes: participants || nonce || app || challenge.
func (f FixedPart) encode() []byte {
	e := abi.NewEncoder().PutAddresses(f.Participants).PutUint64(f.ChannelNonce).PutAddress(f.AppDefinition).PutUint32(f.ChallengeDuration)
	return e.Bytes()
}

// ChannelID derives the deterministic, collision-resistant channel
// identifier: keccak256 of the packed fixed part. Participant order is
// load-bearing — permuting participants yields a different channel id.
func (f FixedPart) ChannelID() (primitives.Hash, error) {
	if err := f.Validate(); err != nil {
		return primitives.Hash{}, err
	}
	return abi.Keccak256(f.encode()), nil
}

// VariablePart is the mutable, per-turn portion of a channel's state.
type VariablePart struct {
	AppData []byte
	Outcome Outcome
	TurnNum uint64
	IsFinal bool
}

// encode packs the variable part: app_data || outcome (asset, per-allocation
// destination/amount/kind/metadata) || turn_num || is_final.
func (v VariablePart) encode() ([]byte, error) {
	e := abi.NewEncoder()
	e.PutBytes(v.AppData)
	e.PutAddress(v.Outcome.Asset)
	for _, a := range v.Outcome.Allocations {
		if !abi.FitsUint256(a.Amount) {
			return nil, ErrAmountOverflow
		}
		e.PutAddress(a.Destination)
		if _, err := e.PutUint256(a.Amount); err != nil {
			return nil, err
		}
		e.PutUint32(uint32(a.Kind))
		e.PutBytes(a.Metadata)
	}
	e.PutUint64(v.TurnNum)
	if v.IsFinal {
		e.PutUint32(1)
	} else {
		e.PutUint32(0)
	}
	return e.Bytes(), nil
}

// State is the concatenation of a channel's identity (FixedPart) and its
// current mutable content (VariablePart).
type State struct {
	FixedPart
	VariablePart
}

// NewState constructs a State after validating the fixed part and every
// allocation amount.
func NewState(fp FixedPart, vp VariablePart) (State, error) {
	if err := fp.Validate(); err != nil {
		return State{}, err
	}
	for _, a := range vp.Outcome.Allocations {
		if !abi.FitsUint256(a.Amount) {
			return State{}, ErrAmountOverflow
		}
	}
	return State{FixedPart: fp, VariablePart: vp}, nil
}

// Encode returns the full packed encoding: fixed part followed by
// variable part, with no separator — this is the exact byte string the
// adjudicator hashes and the message a participant signs.
func (s State) Encode() ([]byte, error) {
	vpEnc, err := s.VariablePart.encode()
	if err != nil {
		return nil, err
	}
	return append(s.FixedPart.encode(), vpEnc...), nil
}

// Hash returns keccak256 of the packed encoding — the signed message.
func (s State) Hash() (primitives.Hash, error) {
	enc, err := s.Encode()
	if err != nil {
		return primitives.Hash{}, err
	}
	return abi.Keccak256(enc), nil
}

// ParticipantIndex returns the index of addr within the fixed part's
// participant list, or -1 if addr is not a participant.
func (f FixedPart) ParticipantIndex(addr primitives.Address) int {
	for i, p := range f.Participants {
		if p == addr {
			return i
		}
	}
	return -1
}
