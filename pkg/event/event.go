// Package event defines the closed event taxonomy that is the sole
// authoritative representation of a channel or objective: ~20 typed
// events across four domains (objective lifecycle, channel state, chain
// bridge, messaging), a deterministic content-addressed identifier for
// each, and the canonical JSON serialization the identifier is derived
// from.
//
// The taxonomy is intentionally closed — this is not a general-purpose
// event-sourcing framework (spec §1 non-goals). Adding an event kind
// means adding a payload type and a Kind constant here, never a generic
// escape hatch.
package event

// Kind identifies one of the closed set of event variants.
type Kind string

const (
	// Objective lifecycle domain.
	KindObjectiveCreated   Kind = "objective-created"
	KindObjectiveApproved  Kind = "objective-approved"
	KindObjectiveRejected  Kind = "objective-rejected"
	KindObjectiveCranked   Kind = "objective-cranked"
	KindObjectiveCompleted Kind = "objective-completed"

	// Channel state domain.
	KindChannelCreated          Kind = "channel-created"
	KindStateSigned             Kind = "state-signed"
	KindStateReceived           Kind = "state-received"
	KindStateSupportedUpdated   Kind = "state-supported-updated"
	KindChannelFinalized        Kind = "channel-finalized"

	// Chain bridge domain.
	KindDepositDetected     Kind = "deposit-detected"
	KindAllocationUpdated   Kind = "allocation-updated"
	KindChallengeRegistered Kind = "challenge-registered"
	KindChallengeCleared    Kind = "challenge-cleared"
	KindChannelConcluded    Kind = "channel-concluded"
	KindWithdrawCompleted   Kind = "withdraw-completed"

	// Messaging domain.
	KindMessageSent     Kind = "message-sent"
	KindMessageReceived Kind = "message-received"
	KindMessageAcked    Kind = "message-acked"
	KindMessageDropped  Kind = "message-dropped"
)

// SchemaVersion is the current event catalogue version (spec §3/§6).
const SchemaVersion = 1

// Payload is implemented by exactly the ~20 concrete payload structs
// enumerated above. Payloads that carry an objective or channel
// identifier also implement EntityCarrier, for the reconstructor's
// filter-and-fold (spec §4.5); events with no single owning entity (the
// message-* events, addressed to a peer rather than a channel) do not
// implement EntityCarrier.
type Payload interface {
	Kind() Kind
}

// EntityCarrier is implemented by payloads that carry an objective or
// channel identifier the reconstructor folds on.
type EntityCarrier interface {
	EntityID() [32]byte
}

// Event is a single immutable, content-addressed record. ID, Version and
// Timestamp are set once at construction (see New) and never mutated.
type Event struct {
	ID        [32]byte
	Kind      Kind
	Version   int
	Timestamp int64 // unix milliseconds
	Payload   Payload
}

// New builds an Event with a freshly derived content-addressed ID. The
// timestamp is supplied by the caller (the store never calls time.Now
// itself — determinism and testability over convenience).
func New(p Payload, timestampMillis int64) (Event, error) {
	id, err := ID(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        id,
		Kind:      p.Kind(),
		Version:   SchemaVersion,
		Timestamp: timestampMillis,
		Payload:   p,
	}, nil
}
