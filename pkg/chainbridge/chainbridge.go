// Package chainbridge is the minimal collaborator that turns on-chain
// signals into chain-bridge event payloads: deposit-detected,
// challenge-registered, challenge-cleared, channel-concluded and
// withdraw-completed. It does not produce allocation-updated events;
// Client has no method that reads allocation changes. It is
// explicitly out of core scope (spec §1 non-goals exclude on-chain
// dispute logic and a general chain-RPC layer) but is given a concrete,
// runnable shape here so the host binary can exercise the engine
// end-to-end without a live chain.
//
// It never mutates core state directly: every signal becomes an
// engine.Engine.IngestCollaboratorEvent call, same as a POST from the
// HTTP control surface would produce.
package chainbridge

import (
	"context"
	"math/big"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/primitives"
)

// DepositSignal is a decoded on-chain deposit observed between two block
// heights.
type DepositSignal struct {
	ChannelID primitives.Hash
	Depositor primitives.Address
	Asset     primitives.Address
	Amount    *big.Int
	TxHash    primitives.Hash
}

// ChallengeSignal is a decoded on-chain challenge registration or
// clearance. Cleared is false for a registration, true for a clearance.
type ChallengeSignal struct {
	ChannelID primitives.Hash
	Challenger primitives.Address
	TurnNum   uint64
	ExpiresAt int64
	Cleared   bool
}

// ConclusionSignal is a decoded adjudicator conclusion recording a
// channel's final outcome.
type ConclusionSignal struct {
	ChannelID      primitives.Hash
	FinalTurn      uint64
	FinalStateHash primitives.Hash
}

// WithdrawSignal is a decoded on-chain withdrawal from the adjudicator
// to a participant's external address.
type WithdrawSignal struct {
	ChannelID   primitives.Hash
	Destination primitives.Address
	Asset       primitives.Address
	Amount      *big.Int
	TxHash      primitives.Hash
}

// Client is the minimal chain-reading surface a Poller needs. A
// concrete implementation (EthClient, client.go) wraps
// go-ethereum/ethclient; tests use a fake.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	DepositsSince(ctx context.Context, fromBlock, toBlock uint64) ([]DepositSignal, error)
	ChallengesSince(ctx context.Context, fromBlock, toBlock uint64) ([]ChallengeSignal, error)
	ConclusionsSince(ctx context.Context, fromBlock, toBlock uint64) ([]ConclusionSignal, error)
	WithdrawalsSince(ctx context.Context, fromBlock, toBlock uint64) ([]WithdrawSignal, error)
}

// Ingester is the subset of engine.Engine a Poller drives. Declared here
// as an interface so the poller can be tested without constructing a
// full engine.
type Ingester interface {
	IngestCollaboratorEvent(p event.Payload, timestampMillis int64) (uint64, error)
}
