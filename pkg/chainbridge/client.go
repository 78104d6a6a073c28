package chainbridge

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/evchannel/core/pkg/primitives"
)

// Adjudicator event signatures this client filters for. Grounded on
// teacher pkg/ethereum/client.go's CallContract/SendContractTransaction
// use of go-ethereum/accounts/abi for packing and unpacking — here used
// in reverse, to unpack event logs rather than call results.
var (
	topicDeposited           = crypto.Keccak256Hash([]byte("Deposited(bytes32,address,address,uint256,bytes32)"))
	topicChallengeRegistered = crypto.Keccak256Hash([]byte("ChallengeRegistered(bytes32,address,uint64,int64)"))
	topicChallengeCleared    = crypto.Keccak256Hash([]byte("ChallengeCleared(bytes32,uint64)"))
	topicConcluded           = crypto.Keccak256Hash([]byte("Concluded(bytes32,uint64,bytes32)"))
	topicWithdrawn           = crypto.Keccak256Hash([]byte("Withdrawn(bytes32,address,address,uint256,bytes32)"))
)

var (
	addressAmountHashArgs abi.Arguments
	turnExpiryArgs        abi.Arguments
	turnArgs              abi.Arguments
	turnHashArgs          abi.Arguments
)

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("chainbridge: bad abi type %q: %v", t, err))
		}
		args[i] = abi.Argument{Type: ty}
	}
	return args
}

func init() {
	addressAmountHashArgs = mustArgs("address", "uint256", "bytes32")
	turnExpiryArgs = mustArgs("uint64", "int64")
	turnArgs = mustArgs("uint64")
	turnHashArgs = mustArgs("uint64", "bytes32")
}

// EthClient implements Client over a live go-ethereum RPC endpoint,
// filtering adjudicator contract logs. Grounded on teacher
// pkg/ethereum/client.go's ethclient.Dial bootstrap; trimmed to the
// log-reading surface chainbridge needs (no transaction signing —
// submitting deposits/withdrawals on-chain is spec §1's "on-chain
// dispute logic" non-goal, handled by the objective engine's
// submit_tx side effects being dispatched by a different collaborator).
type EthClient struct {
	rpc         *ethclient.Client
	adjudicator common.Address
}

// NewEthClient dials url and scopes log filtering to one adjudicator
// contract address.
func NewEthClient(url string, adjudicator common.Address) (*EthClient, error) {
	rpc, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("chainbridge: dial %s: %w", url, err)
	}
	return &EthClient{rpc: rpc, adjudicator: adjudicator}, nil
}

// BlockNumber returns the latest block height observed by the node.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chainbridge: block number: %w", err)
	}
	return n, nil
}

func (c *EthClient) filter(ctx context.Context, fromBlock, toBlock uint64, topic common.Hash) ([]ethtypesLog, error) {
	logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(fromBlock)),
		ToBlock:   big.NewInt(int64(toBlock)),
		Addresses: []common.Address{c.adjudicator},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]ethtypesLog, len(logs))
	for i, l := range logs {
		out[i] = ethtypesLog{topics: l.Topics, data: l.Data}
	}
	return out, nil
}

// ethtypesLog is the minimal projection of go-ethereum/core/types.Log
// this package decodes: indexed topics plus the ABI-encoded data blob.
type ethtypesLog struct {
	topics []common.Hash
	data   []byte
}

// DepositsSince decodes every Deposited log in range. Topic layout:
// [0]=signature [1]=channelID [2]=depositor; data=(asset, amount, txHash).
func (c *EthClient) DepositsSince(ctx context.Context, fromBlock, toBlock uint64) ([]DepositSignal, error) {
	logs, err := c.filter(ctx, fromBlock, toBlock, topicDeposited)
	if err != nil {
		return nil, fmt.Errorf("chainbridge: filter deposits: %w", err)
	}
	out := make([]DepositSignal, 0, len(logs))
	for _, l := range logs {
		if len(l.topics) < 3 {
			continue
		}
		vals, err := addressAmountHashArgs.Unpack(l.data)
		if err != nil {
			return nil, fmt.Errorf("chainbridge: unpack deposit: %w", err)
		}
		out = append(out, DepositSignal{
			ChannelID: primitives.Hash(l.topics[1]),
			Depositor: addressFromTopic(l.topics[2]),
			Asset:     primitives.Address(vals[0].(common.Address)),
			Amount:    vals[1].(*big.Int),
			TxHash:    primitives.Hash(vals[2].([32]byte)),
		})
	}
	return out, nil
}

// ChallengesSince decodes both ChallengeRegistered and ChallengeCleared
// logs into the shared ChallengeSignal shape.
func (c *EthClient) ChallengesSince(ctx context.Context, fromBlock, toBlock uint64) ([]ChallengeSignal, error) {
	registered, err := c.filter(ctx, fromBlock, toBlock, topicChallengeRegistered)
	if err != nil {
		return nil, fmt.Errorf("chainbridge: filter challenge registrations: %w", err)
	}
	out := make([]ChallengeSignal, 0, len(registered))
	for _, l := range registered {
		if len(l.topics) < 3 {
			continue
		}
		vals, err := turnExpiryArgs.Unpack(l.data)
		if err != nil {
			return nil, fmt.Errorf("chainbridge: unpack challenge registration: %w", err)
		}
		out = append(out, ChallengeSignal{
			ChannelID:  primitives.Hash(l.topics[1]),
			Challenger: addressFromTopic(l.topics[2]),
			TurnNum:    vals[0].(uint64),
			ExpiresAt:  vals[1].(int64),
		})
	}

	cleared, err := c.filter(ctx, fromBlock, toBlock, topicChallengeCleared)
	if err != nil {
		return nil, fmt.Errorf("chainbridge: filter challenge clearances: %w", err)
	}
	for _, l := range cleared {
		if len(l.topics) < 2 {
			continue
		}
		vals, err := turnArgs.Unpack(l.data)
		if err != nil {
			return nil, fmt.Errorf("chainbridge: unpack challenge clearance: %w", err)
		}
		out = append(out, ChallengeSignal{
			ChannelID: primitives.Hash(l.topics[1]),
			TurnNum:   vals[0].(uint64),
			Cleared:   true,
		})
	}
	return out, nil
}

// ConclusionsSince decodes Concluded logs.
func (c *EthClient) ConclusionsSince(ctx context.Context, fromBlock, toBlock uint64) ([]ConclusionSignal, error) {
	logs, err := c.filter(ctx, fromBlock, toBlock, topicConcluded)
	if err != nil {
		return nil, fmt.Errorf("chainbridge: filter conclusions: %w", err)
	}
	out := make([]ConclusionSignal, 0, len(logs))
	for _, l := range logs {
		if len(l.topics) < 2 {
			continue
		}
		vals, err := turnHashArgs.Unpack(l.data)
		if err != nil {
			return nil, fmt.Errorf("chainbridge: unpack conclusion: %w", err)
		}
		out = append(out, ConclusionSignal{
			ChannelID:      primitives.Hash(l.topics[1]),
			FinalTurn:      vals[0].(uint64),
			FinalStateHash: primitives.Hash(vals[1].([32]byte)),
		})
	}
	return out, nil
}

// WithdrawalsSince decodes Withdrawn logs.
func (c *EthClient) WithdrawalsSince(ctx context.Context, fromBlock, toBlock uint64) ([]WithdrawSignal, error) {
	logs, err := c.filter(ctx, fromBlock, toBlock, topicWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("chainbridge: filter withdrawals: %w", err)
	}
	out := make([]WithdrawSignal, 0, len(logs))
	for _, l := range logs {
		if len(l.topics) < 3 {
			continue
		}
		vals, err := addressAmountHashArgs.Unpack(l.data)
		if err != nil {
			return nil, fmt.Errorf("chainbridge: unpack withdrawal: %w", err)
		}
		out = append(out, WithdrawSignal{
			ChannelID:   primitives.Hash(l.topics[1]),
			Destination: addressFromTopic(l.topics[2]),
			Asset:       primitives.Address(vals[0].(common.Address)),
			Amount:      vals[1].(*big.Int),
			TxHash:      primitives.Hash(vals[2].([32]byte)),
		})
	}
	return out, nil
}

func addressFromTopic(h common.Hash) primitives.Address {
	var a primitives.Address
	copy(a[:], h[12:])
	return a
}
