package event

import (
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/state"
)

// Decimal is a base-10, no-exponent string representation of a uint256
// value — large wei amounts are carried this way throughout the chain
// bridge domain to avoid 256-bit precision loss in JSON (spec §3).
type Decimal string

// ---- Objective lifecycle domain (5) ----

// ObjectiveCreatedPayload records the birth of an objective: its kind,
// the channel it owns, the participant list it coordinates, and the
// construction parameters (fixed part, outcome, local index and — for
// the protocols that need them — a final turn number or leader flag)
// needed to rebuild the exact objective.DirectFund/DirectDefund/
// ConsensusChannel value a restarted process lost from memory. Without
// these the log alone cannot resume an in-flight objective: the
// coarse fold in pkg/reconstruct reports status but not the live
// protocol state a crank needs.
type ObjectiveCreatedPayload struct {
	ObjectiveID   primitives.Hash      `json:"objective_id"`
	ObjectiveKind string               `json:"objective_kind"`
	ChannelID     primitives.Hash      `json:"channel_id"`
	Participants  []primitives.Address `json:"participants"`
	FixedPart     state.FixedPart      `json:"fixed_part"`
	Outcome       state.Outcome        `json:"outcome"`
	MyIndex       int                  `json:"my_index"`
	FinalTurnNum  uint64               `json:"final_turn_num,omitempty"`
	IsLeader      bool                 `json:"is_leader,omitempty"`
}

func (p ObjectiveCreatedPayload) Kind() Kind          { return KindObjectiveCreated }
func (p ObjectiveCreatedPayload) EntityID() [32]byte  { return p.ObjectiveID }

// ObjectiveApprovedPayload records local operator approval to proceed.
type ObjectiveApprovedPayload struct {
	ObjectiveID primitives.Hash `json:"objective_id"`
}

func (p ObjectiveApprovedPayload) Kind() Kind         { return KindObjectiveApproved }
func (p ObjectiveApprovedPayload) EntityID() [32]byte { return p.ObjectiveID }

// ObjectiveRejectedPayload records a terminal rejection and its reason.
type ObjectiveRejectedPayload struct {
	ObjectiveID primitives.Hash `json:"objective_id"`
	Reason      string          `json:"reason,omitempty"`
}

func (p ObjectiveRejectedPayload) Kind() Kind         { return KindObjectiveRejected }
func (p ObjectiveRejectedPayload) EntityID() [32]byte { return p.ObjectiveID }

// ObjectiveCrankedPayload records one step of an objective's state
// machine: how many side effects it produced and whether it is blocked.
type ObjectiveCrankedPayload struct {
	ObjectiveID primitives.Hash `json:"objective_id"`
	NumEffects  int             `json:"num_effects"`
	Blocked     bool            `json:"blocked"`
	WaitingFor  string          `json:"waiting_for"`
}

func (p ObjectiveCrankedPayload) Kind() Kind         { return KindObjectiveCranked }
func (p ObjectiveCrankedPayload) EntityID() [32]byte { return p.ObjectiveID }

// ObjectiveCompletedPayload records terminal success/failure and,
// for channel-owning objectives, the final channel state hash.
type ObjectiveCompletedPayload struct {
	ObjectiveID        primitives.Hash  `json:"objective_id"`
	Success            bool             `json:"success"`
	FinalChannelStateHash *primitives.Hash `json:"final_channel_state_hash,omitempty"`
}

func (p ObjectiveCompletedPayload) Kind() Kind         { return KindObjectiveCompleted }
func (p ObjectiveCompletedPayload) EntityID() [32]byte { return p.ObjectiveID }

// ---- Channel state domain (5) ----

// ChannelCreatedPayload records a channel's fixed identity.
type ChannelCreatedPayload struct {
	ChannelID         primitives.Hash      `json:"channel_id"`
	Participants      []primitives.Address `json:"participants"`
	ChannelNonce      uint64               `json:"channel_nonce"`
	AppDefinition     primitives.Address   `json:"app_definition"`
	ChallengeDuration uint32               `json:"challenge_duration"`
}

func (p ChannelCreatedPayload) Kind() Kind         { return KindChannelCreated }
func (p ChannelCreatedPayload) EntityID() [32]byte { return p.ChannelID }

// StateSignedPayload records that the local participant signed a state.
type StateSignedPayload struct {
	ChannelID  primitives.Hash      `json:"channel_id"`
	TurnNum    uint64               `json:"turn_num"`
	StateHash  primitives.Hash      `json:"state_hash"`
	Signer     primitives.Address   `json:"signer"`
	Signature  primitives.Signature `json:"signature"`
	IsFinal    bool                 `json:"is_final"`
	AppDataHash *primitives.Hash    `json:"app_data_hash,omitempty"`
}

func (p StateSignedPayload) Kind() Kind         { return KindStateSigned }
func (p StateSignedPayload) EntityID() [32]byte { return p.ChannelID }

// StateReceivedPayload records a signed state received from a peer.
type StateReceivedPayload struct {
	ChannelID   primitives.Hash      `json:"channel_id"`
	TurnNum     uint64               `json:"turn_num"`
	StateHash   primitives.Hash      `json:"state_hash"`
	Signer      primitives.Address   `json:"signer"`
	Signature   primitives.Signature `json:"signature"`
	IsFinal     bool                 `json:"is_final"`
	From        primitives.Address   `json:"from"`
	AppDataHash *primitives.Hash     `json:"app_data_hash,omitempty"`
}

func (p StateReceivedPayload) Kind() Kind         { return KindStateReceived }
func (p StateReceivedPayload) EntityID() [32]byte { return p.ChannelID }

// StateSupportedUpdatedPayload records the supported turn strictly
// advancing — spec invariant: new > prev.
type StateSupportedUpdatedPayload struct {
	ChannelID      primitives.Hash `json:"channel_id"`
	PrevTurn       uint64          `json:"prev_turn"`
	SupportedTurn  uint64          `json:"supported_turn"`
	NumSignatures  int             `json:"num_signatures"`
}

func (p StateSupportedUpdatedPayload) Kind() Kind         { return KindStateSupportedUpdated }
func (p StateSupportedUpdatedPayload) EntityID() [32]byte { return p.ChannelID }

// ChannelFinalizedPayload is absorbing: once recorded, no further
// state-signed/state-supported-updated event may alter the channel's
// supported turn (spec invariant).
type ChannelFinalizedPayload struct {
	ChannelID primitives.Hash `json:"channel_id"`
	FinalTurn uint64          `json:"final_turn"`
}

func (p ChannelFinalizedPayload) Kind() Kind         { return KindChannelFinalized }
func (p ChannelFinalizedPayload) EntityID() [32]byte { return p.ChannelID }

// ---- Chain bridge domain (6) ----

// DepositDetectedPayload records an on-chain deposit observed by the
// chain bridge collaborator.
type DepositDetectedPayload struct {
	ChannelID primitives.Hash    `json:"channel_id"`
	Depositor primitives.Address `json:"depositor"`
	Asset     primitives.Address `json:"asset"`
	Amount    Decimal            `json:"amount"`
	TxHash    primitives.Hash    `json:"tx_hash"`
}

func (p DepositDetectedPayload) Kind() Kind         { return KindDepositDetected }
func (p DepositDetectedPayload) EntityID() [32]byte { return p.ChannelID }

// AllocationUpdatedPayload records an on-chain change to a channel's
// recorded holdings.
type AllocationUpdatedPayload struct {
	ChannelID primitives.Hash `json:"channel_id"`
	Asset     primitives.Address `json:"asset"`
	Allocations []AllocationRef `json:"allocations"`
}

// AllocationRef is the chain-bridge-safe representation of an Allocation:
// amounts as decimal strings, never as a JSON number.
type AllocationRef struct {
	Destination primitives.Address `json:"destination"`
	Amount      Decimal            `json:"amount"`
}

func (p AllocationUpdatedPayload) Kind() Kind         { return KindAllocationUpdated }
func (p AllocationUpdatedPayload) EntityID() [32]byte { return p.ChannelID }

// ChallengeRegisteredPayload records an on-chain challenge against a
// channel's latest supported state.
type ChallengeRegisteredPayload struct {
	ChannelID   primitives.Hash    `json:"channel_id"`
	Challenger  primitives.Address `json:"challenger"`
	TurnNum     uint64             `json:"turn_num"`
	ExpiresAt   int64              `json:"expires_at"`
}

func (p ChallengeRegisteredPayload) Kind() Kind         { return KindChallengeRegistered }
func (p ChallengeRegisteredPayload) EntityID() [32]byte { return p.ChannelID }

// ChallengeClearedPayload records a challenge being cleared by a
// newer supported state.
type ChallengeClearedPayload struct {
	ChannelID primitives.Hash `json:"channel_id"`
	TurnNum   uint64          `json:"turn_num"`
}

func (p ChallengeClearedPayload) Kind() Kind         { return KindChallengeCleared }
func (p ChallengeClearedPayload) EntityID() [32]byte { return p.ChannelID }

// ChannelConcludedPayload records the adjudicator recording a final
// outcome for the channel.
type ChannelConcludedPayload struct {
	ChannelID     primitives.Hash `json:"channel_id"`
	FinalTurn     uint64          `json:"final_turn"`
	FinalStateHash primitives.Hash `json:"final_state_hash"`
}

func (p ChannelConcludedPayload) Kind() Kind         { return KindChannelConcluded }
func (p ChannelConcludedPayload) EntityID() [32]byte { return p.ChannelID }

// WithdrawCompletedPayload records funds leaving the adjudicator to a
// participant's external address.
type WithdrawCompletedPayload struct {
	ChannelID   primitives.Hash    `json:"channel_id"`
	Destination primitives.Address `json:"destination"`
	Asset       primitives.Address `json:"asset"`
	Amount      Decimal            `json:"amount"`
	TxHash      primitives.Hash    `json:"tx_hash"`
}

func (p WithdrawCompletedPayload) Kind() Kind         { return KindWithdrawCompleted }
func (p WithdrawCompletedPayload) EntityID() [32]byte { return p.ChannelID }

// ---- Messaging domain (4) ----

// MessageSentPayload records an outbound signed-state message. Messaging
// events have no single owning channel/objective entity in the sense the
// reconstructor folds on — they carry a recipient set, not an entity id.
type MessageSentPayload struct {
	MessageID primitives.Hash      `json:"message_id"`
	To        []primitives.Address `json:"to"`
	ChannelID primitives.Hash      `json:"channel_id"`
	Body      []byte               `json:"body"`
}

func (p MessageSentPayload) Kind() Kind { return KindMessageSent }

// MessageReceivedPayload records an inbound message from a peer.
type MessageReceivedPayload struct {
	MessageID primitives.Hash    `json:"message_id"`
	From      primitives.Address `json:"from"`
	ChannelID primitives.Hash    `json:"channel_id"`
	Body      []byte             `json:"body"`
}

func (p MessageReceivedPayload) Kind() Kind { return KindMessageReceived }

// MessageAckedPayload records peer acknowledgement of a sent message.
type MessageAckedPayload struct {
	MessageID primitives.Hash    `json:"message_id"`
	From      primitives.Address `json:"from"`
}

func (p MessageAckedPayload) Kind() Kind { return KindMessageAcked }

// MessageDroppedPayload records a message the transport could not
// deliver or the host chose to discard (e.g. failed signature check).
type MessageDroppedPayload struct {
	MessageID primitives.Hash `json:"message_id"`
	Reason    string          `json:"reason"`
}

func (p MessageDroppedPayload) Kind() Kind { return KindMessageDropped }
