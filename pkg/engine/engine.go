// Package engine wires the event store, reconstructor/snapshot manager,
// objective stepper and validation context into the single dispatch
// entrypoint spec §6 describes: collaborators (HTTP control surface,
// chain bridge, transport) drive the system only by calling into this
// package, never by reaching into eventstore/objective internals.
//
// Two responsibilities live here that spec §9 explicitly assigns above
// the event log rather than inside it:
//   - dedup: an incoming event whose content-addressed ID already exists
//     in the log is rejected before Append is ever called.
//   - routing: a collaborator event that targets a channel with an
//     active objective is translated into that objective's InEvent
//     vocabulary and cranked, with the crank's own bookkeeping events
//     appended in turn.
package engine

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/objective"
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/reconstruct"
	"github.com/evchannel/core/pkg/signer"
	"github.com/evchannel/core/pkg/snapshot"
	"github.com/evchannel/core/pkg/state"
	"github.com/evchannel/core/pkg/validation"
)

// Errors returned by Engine operations.
var (
	ErrDuplicateEvent    = errors.New("engine: event id already present in the log")
	ErrObjectiveExists   = errors.New("engine: objective id already exists")
	ErrChannelExists     = errors.New("engine: channel id already exists")
	ErrObjectiveNotFound = errors.New("engine: no active objective for this id")
)

// Metrics is the narrow counter surface the engine drives directly
// (objective completions, snapshot writes); the HTTP control surface's
// *server.Metrics implements it without this package importing
// pkg/server. A nil Metrics is legal — every call site below checks
// before using it.
type Metrics interface {
	IncObjectivesCompleted()
	IncSnapshotsSaved()
}

// stepper is satisfied by a handle wrapping one of the three concrete
// objective variants (DirectFund, DirectDefund, ConsensusChannel). The
// generic CrankResult[T] each Step method returns is consumed inside the
// handle so the registry can hold a single non-generic type.
type stepper interface {
	step(ev objective.InEvent, s *signer.Signer) ([]objective.SideEffect, objective.WaitingFor, bool, error)
	channelID() primitives.Hash
}

// Engine is the process-local coordinator for one participant's view of
// its channels and objectives. It owns the only mutable registry in the
// core: everything durable lives in the event log or the KV boundary.
type Engine struct {
	store     eventstore.Store
	snapshots *snapshot.Manager
	validate  *validation.Context
	signer    *signer.Signer
	metrics   Metrics
	logger    *log.Logger

	mu      sync.Mutex
	seen    map[primitives.Hash]struct{}
	active  map[primitives.Hash]stepper   // objective id -> handle
	byChan  map[primitives.Hash]primitives.Hash // channel id -> objective id
}

// New builds an Engine over an already-constructed store and snapshot
// manager. metrics and logger may both be nil: a nil Metrics disables
// counter increments, and a nil logger gets a "[Engine] " prefixed
// logger writing to the default destination, matching teacher
// pkg/server handler constructors.
func New(store eventstore.Store, snapshots *snapshot.Manager, localSigner *signer.Signer, metrics Metrics, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Engine] ", log.LstdFlags)
	}
	e := &Engine{
		store:     store,
		snapshots: snapshots,
		signer:    localSigner,
		metrics:   metrics,
		logger:    logger,
		seen:      make(map[primitives.Hash]struct{}),
		active:    make(map[primitives.Hash]stepper),
		byChan:    make(map[primitives.Hash]primitives.Hash),
	}
	e.validate = validation.NewContext(store)
	return e
}

// append centralizes the dedup decision every entrypoint below must
// apply: construct the event, reject it if its content-addressed id has
// already been logged, otherwise append and remember the id. Per spec
// §4.6's should_snapshot(offset) = (offset % interval == 0) decision
// rule, a successful append that lands on a snapshot boundary folds the
// event's entity and durably saves it — snapshot creation is driven from
// here, post-append, never by the store or the snapshot manager itself.
func (e *Engine) append(p event.Payload, timestampMillis int64) (event.Event, uint64, error) {
	ev, err := event.New(p, timestampMillis)
	if err != nil {
		return event.Event{}, 0, fmt.Errorf("engine: build event: %w", err)
	}
	e.mu.Lock()
	if _, dup := e.seen[ev.ID]; dup {
		e.mu.Unlock()
		return event.Event{}, 0, ErrDuplicateEvent
	}
	e.seen[ev.ID] = struct{}{}
	e.mu.Unlock()

	offset, err := e.store.Append(ev)
	if err != nil {
		e.mu.Lock()
		delete(e.seen, ev.ID)
		e.mu.Unlock()
		return event.Event{}, 0, fmt.Errorf("engine: append: %w", err)
	}

	if e.snapshots != nil && e.snapshots.ShouldSnapshot(offset) {
		if err := e.trySnapshot(ev); err != nil {
			e.logger.Printf("snapshot at offset %d: %v", offset, err)
		}
	}
	return ev, offset, nil
}

// entityFold reports which reconstructor fold a payload's Kind belongs
// to: exactly one of objective-lifecycle or channel-state/chain-bridge,
// never both, matching the closed domains pkg/event's Kind constants
// are grouped into. Messaging kinds carry no single owning entity and
// fold as neither.
func entityFold(k event.Kind) (isObjective, isChannel bool) {
	switch k {
	case event.KindObjectiveCreated, event.KindObjectiveApproved, event.KindObjectiveRejected,
		event.KindObjectiveCranked, event.KindObjectiveCompleted:
		return true, false
	case event.KindChannelCreated, event.KindStateSigned, event.KindStateReceived,
		event.KindStateSupportedUpdated, event.KindChannelFinalized,
		event.KindDepositDetected, event.KindAllocationUpdated,
		event.KindChallengeRegistered, event.KindChallengeCleared,
		event.KindChannelConcluded, event.KindWithdrawCompleted:
		return false, true
	default:
		return false, false
	}
}

// trySnapshot folds the entity the just-appended event belongs to from
// scratch and saves the result at the log's current length, matching
// the end boundary reconstruct.Objective/Channel already fold to.
func (e *Engine) trySnapshot(ev event.Event) error {
	carrier, ok := ev.Payload.(event.EntityCarrier)
	if !ok {
		return nil
	}
	entityID := primitives.Hash(carrier.EntityID())
	isObjective, isChannel := entityFold(ev.Kind)
	end := e.store.Len()
	switch {
	case isObjective:
		snap, err := reconstruct.Objective(e.store, entityID)
		if err != nil {
			return fmt.Errorf("fold objective %x: %w", entityID, err)
		}
		if err := e.snapshots.Save(entityID, end, snap); err != nil {
			return fmt.Errorf("save objective snapshot: %w", err)
		}
	case isChannel:
		snap, err := reconstruct.Channel(e.store, entityID)
		if err != nil {
			return fmt.Errorf("fold channel %x: %w", entityID, err)
		}
		if err := e.snapshots.Save(entityID, end, snap); err != nil {
			return fmt.Errorf("save channel snapshot: %w", err)
		}
	default:
		return nil
	}
	if e.metrics != nil {
		e.metrics.IncSnapshotsSaved()
	}
	return nil
}

// CreateDirectFund registers a new DirectFund objective and records its
// birth: an objective-created event followed by the channel-created
// event naming the fixed part it funds.
func (e *Engine) CreateDirectFund(objectiveID primitives.Hash, fp state.FixedPart, targetOutcome state.Outcome, myIndex int, timestampMillis int64) (objective.DirectFund, error) {
	exists, err := e.validate.ObjectiveExists(objectiveID)
	if err != nil {
		return objective.DirectFund{}, err
	}
	if exists {
		return objective.DirectFund{}, ErrObjectiveExists
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		return objective.DirectFund{}, fmt.Errorf("engine: derive channel id: %w", err)
	}
	obj, err := objective.NewDirectFund(objectiveID, channelID, fp, targetOutcome, myIndex)
	if err != nil {
		return objective.DirectFund{}, err
	}
	if _, _, err := e.append(event.ObjectiveCreatedPayload{
		ObjectiveID:   objectiveID,
		ObjectiveKind: "direct-fund",
		ChannelID:     channelID,
		Participants:  fp.Participants,
		FixedPart:     fp,
		Outcome:       targetOutcome,
		MyIndex:       myIndex,
	}, timestampMillis); err != nil {
		return objective.DirectFund{}, err
	}
	if _, _, err := e.append(event.ChannelCreatedPayload{
		ChannelID:         channelID,
		Participants:      fp.Participants,
		ChannelNonce:      fp.ChannelNonce,
		AppDefinition:     fp.AppDefinition,
		ChallengeDuration: fp.ChallengeDuration,
	}, timestampMillis); err != nil {
		return objective.DirectFund{}, err
	}

	e.register(objectiveID, channelID, &directFundHandle{obj: obj})
	return obj, nil
}

// CreateDirectDefund mirrors CreateDirectFund for the defunding protocol.
// The channel must already exist (DirectDefund concludes a funded
// channel, it does not create one).
func (e *Engine) CreateDirectDefund(objectiveID primitives.Hash, fp state.FixedPart, finalOutcome state.Outcome, finalTurnNum uint64, myIndex int, timestampMillis int64) (objective.DirectDefund, error) {
	exists, err := e.validate.ObjectiveExists(objectiveID)
	if err != nil {
		return objective.DirectDefund{}, err
	}
	if exists {
		return objective.DirectDefund{}, ErrObjectiveExists
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		return objective.DirectDefund{}, fmt.Errorf("engine: derive channel id: %w", err)
	}
	chExists, err := e.validate.ChannelExists(channelID)
	if err != nil {
		return objective.DirectDefund{}, err
	}
	if !chExists {
		return objective.DirectDefund{}, fmt.Errorf("engine: defund target channel %x: %w", channelID, ErrObjectiveNotFound)
	}
	obj, err := objective.NewDirectDefund(objectiveID, channelID, fp, finalOutcome, finalTurnNum, myIndex)
	if err != nil {
		return objective.DirectDefund{}, err
	}
	if _, _, err := e.append(event.ObjectiveCreatedPayload{
		ObjectiveID:   objectiveID,
		ObjectiveKind: "direct-defund",
		ChannelID:     channelID,
		Participants:  fp.Participants,
		FixedPart:     fp,
		Outcome:       finalOutcome,
		MyIndex:       myIndex,
		FinalTurnNum:  finalTurnNum,
	}, timestampMillis); err != nil {
		return objective.DirectDefund{}, err
	}
	e.register(objectiveID, channelID, &directDefundHandle{obj: obj})
	return obj, nil
}

// CreateConsensusChannel registers a leader/follower ledger-update
// objective over an already-funded channel.
func (e *Engine) CreateConsensusChannel(objectiveID primitives.Hash, fp state.FixedPart, currentOutcome state.Outcome, currentTurnNum uint64, myIndex int, isLeader bool, timestampMillis int64) (objective.ConsensusChannel, error) {
	exists, err := e.validate.ObjectiveExists(objectiveID)
	if err != nil {
		return objective.ConsensusChannel{}, err
	}
	if exists {
		return objective.ConsensusChannel{}, ErrObjectiveExists
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		return objective.ConsensusChannel{}, fmt.Errorf("engine: derive channel id: %w", err)
	}
	obj, err := objective.NewConsensusChannel(objectiveID, channelID, fp, currentOutcome, currentTurnNum, myIndex, isLeader)
	if err != nil {
		return objective.ConsensusChannel{}, err
	}
	if _, _, err := e.append(event.ObjectiveCreatedPayload{
		ObjectiveID:   objectiveID,
		ObjectiveKind: "consensus-channel",
		ChannelID:     channelID,
		Participants:  fp.Participants,
		FixedPart:     fp,
		Outcome:       currentOutcome,
		MyIndex:       myIndex,
		FinalTurnNum:  currentTurnNum,
		IsLeader:      isLeader,
	}, timestampMillis); err != nil {
		return objective.ConsensusChannel{}, err
	}
	e.register(objectiveID, channelID, &consensusChannelHandle{obj: obj})
	return obj, nil
}

func (e *Engine) register(objectiveID, channelID primitives.Hash, h stepper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[objectiveID] = h
	e.byChan[channelID] = objectiveID
}

// Approve records local operator approval and immediately cranks the
// objective with an approval-granted event, matching the teacher's
// pattern of a single API call doing both the bookkeeping write and the
// state-machine advance.
func (e *Engine) Approve(objectiveID primitives.Hash, timestampMillis int64) ([]objective.SideEffect, error) {
	if _, _, err := e.append(event.ObjectiveApprovedPayload{ObjectiveID: objectiveID}, timestampMillis); err != nil {
		return nil, err
	}
	return e.Crank(objectiveID, objective.InEvent{Kind: objective.InApprovalGranted}, timestampMillis)
}

// Reject records a terminal rejection and removes the objective from the
// active registry; no further event reaches its Step method.
func (e *Engine) Reject(objectiveID primitives.Hash, reason string, timestampMillis int64) error {
	if _, _, err := e.append(event.ObjectiveRejectedPayload{ObjectiveID: objectiveID, Reason: reason}, timestampMillis); err != nil {
		return err
	}
	e.mu.Lock()
	h, ok := e.active[objectiveID]
	if ok {
		delete(e.active, objectiveID)
		delete(e.byChan, h.channelID())
	}
	e.mu.Unlock()
	return nil
}

// Crank steps the named objective with one inbound event, records an
// objective-cranked event describing the result, and — once the
// objective reports no further blocking condition and a complete status
// — an objective-completed event, deregistering it.
func (e *Engine) Crank(objectiveID primitives.Hash, in objective.InEvent, timestampMillis int64) ([]objective.SideEffect, error) {
	e.mu.Lock()
	h, ok := e.active[objectiveID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: crank %x: %w", objectiveID, ErrObjectiveNotFound)
	}

	effects, waiting, done, err := h.step(in, e.signer)
	if err != nil {
		return nil, fmt.Errorf("engine: crank %x: %w", objectiveID, err)
	}

	if _, _, err := e.append(event.ObjectiveCrankedPayload{
		ObjectiveID: objectiveID,
		NumEffects:  len(effects),
		Blocked:     waiting != objective.WaitingNothing,
		WaitingFor:  string(waiting),
	}, timestampMillis); err != nil {
		return nil, err
	}

	if done {
		if _, _, err := e.append(event.ObjectiveCompletedPayload{ObjectiveID: objectiveID, Success: true}, timestampMillis); err != nil {
			return nil, err
		}
		e.mu.Lock()
		delete(e.active, objectiveID)
		delete(e.byChan, h.channelID())
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.IncObjectivesCompleted()
		}
	}

	for _, eff := range effects {
		e.logger.Printf("objective %x side effect kind=%s to=%v", objectiveID, eff.Kind, eff.To)
	}
	return effects, nil
}

// IngestCollaboratorEvent appends a chain-bridge or peer-originated
// payload to the log and, if its channel has an active objective,
// translates it into that objective's InEvent vocabulary and cranks it.
// Payload kinds with no InEvent translation (messaging, allocation,
// challenge bookkeeping) are only appended — the engine never invents a
// crank for an event the objective/crank protocol does not model.
func (e *Engine) IngestCollaboratorEvent(p event.Payload, timestampMillis int64) (uint64, error) {
	_, offset, err := e.append(p, timestampMillis)
	if err != nil {
		return 0, err
	}

	in, channelID, ok := translate(p)
	if !ok {
		return offset, nil
	}
	e.mu.Lock()
	objectiveID, tracked := e.byChan[channelID]
	e.mu.Unlock()
	if !tracked {
		return offset, nil
	}
	if _, err := e.Crank(objectiveID, in, timestampMillis); err != nil {
		return offset, fmt.Errorf("engine: auto-crank from collaborator event: %w", err)
	}
	return offset, nil
}

// translate maps the subset of collaborator-event payloads that drive an
// objective's crank into the objective package's InEvent vocabulary.
func translate(p event.Payload) (objective.InEvent, primitives.Hash, bool) {
	switch v := p.(type) {
	case event.StateReceivedPayload:
		return objective.InEvent{
			Kind:      objective.InStateReceived,
			ChannelID: v.ChannelID,
			TurnNum:   v.TurnNum,
			From:      v.From,
			Signature: v.Signature,
		}, v.ChannelID, true
	case event.DepositDetectedPayload:
		return objective.InEvent{
			Kind:      objective.InDepositDetected,
			ChannelID: v.ChannelID,
			Depositor: v.Depositor,
		}, v.ChannelID, true
	case event.WithdrawCompletedPayload:
		return objective.InEvent{
			Kind:      objective.InWithdrawCompleted,
			ChannelID: v.ChannelID,
			Depositor: v.Destination,
		}, v.ChannelID, true
	default:
		return objective.InEvent{}, primitives.Hash{}, false
	}
}

// Store exposes the underlying event log read surface to collaborators
// (HTTP handlers, chain bridge) that need to read but must never append
// outside this package's entrypoints.
func (e *Engine) Store() eventstore.Store { return e.store }

// Snapshots exposes the snapshot manager for periodic save/prune callers.
func (e *Engine) Snapshots() *snapshot.Manager { return e.snapshots }

// Bootstrap replays the entire event log once to rebuild the in-memory
// state a restarted process loses: the dedup set and the registry of
// still-active objectives. It must run after New and before any
// collaborator reaches the engine. Replay is strictly a read path — it
// calls each objective's Step the same way Crank does, but it never
// appends an event or forwards a side effect; the log's length is
// unchanged by a Bootstrap call.
//
// It returns the number of objectives it re-registered.
func (e *Engine) Bootstrap() (int, error) {
	evs, err := e.store.ReadRange(0, e.store.Len())
	if err != nil {
		return 0, fmt.Errorf("engine: bootstrap: read log: %w", err)
	}

	e.mu.Lock()
	for _, ev := range evs {
		e.seen[ev.ID] = struct{}{}
	}
	e.mu.Unlock()

	type created struct {
		kind   string
		chanID primitives.Hash
		p      event.ObjectiveCreatedPayload
	}
	births := make(map[primitives.Hash]created)
	var order []primitives.Hash
	terminal := make(map[primitives.Hash]bool)
	inEvents := make(map[primitives.Hash][]objective.InEvent)

	for _, ev := range evs {
		switch p := ev.Payload.(type) {
		case event.ObjectiveCreatedPayload:
			births[p.ObjectiveID] = created{kind: p.ObjectiveKind, chanID: p.ChannelID, p: p}
			order = append(order, p.ObjectiveID)
		case event.ObjectiveApprovedPayload:
			inEvents[p.ObjectiveID] = append(inEvents[p.ObjectiveID], objective.InEvent{Kind: objective.InApprovalGranted})
		case event.ObjectiveRejectedPayload:
			terminal[p.ObjectiveID] = true
		case event.ObjectiveCompletedPayload:
			terminal[p.ObjectiveID] = true
		default:
			if in, channelID, ok := translate(p); ok {
				for objectiveID, b := range births {
					if b.chanID == channelID {
						inEvents[objectiveID] = append(inEvents[objectiveID], in)
					}
				}
			}
		}
	}

	registered := 0
	for _, objectiveID := range order {
		if terminal[objectiveID] {
			continue
		}
		b := births[objectiveID]
		h, err := rebuildHandle(b.kind, objectiveID, b.p)
		if err != nil {
			return registered, fmt.Errorf("engine: bootstrap: rebuild objective %x: %w", objectiveID, err)
		}
		for _, in := range inEvents[objectiveID] {
			if _, _, _, err := h.step(in, e.signer); err != nil {
				return registered, fmt.Errorf("engine: bootstrap: replay objective %x: %w", objectiveID, err)
			}
		}
		e.register(objectiveID, b.chanID, h)
		registered++
	}

	e.logger.Printf("bootstrap: replayed %d events, re-registered %d active objective(s)", len(evs), registered)
	return registered, nil
}

// rebuildHandle reconstructs the concrete objective value a creation
// payload describes and wraps it in its stepper handle, the same
// variant dispatch CreateDirectFund/CreateDirectDefund/
// CreateConsensusChannel use when building one fresh.
func rebuildHandle(kind string, objectiveID primitives.Hash, p event.ObjectiveCreatedPayload) (stepper, error) {
	switch kind {
	case "direct-fund":
		obj, err := objective.NewDirectFund(objectiveID, p.ChannelID, p.FixedPart, p.Outcome, p.MyIndex)
		if err != nil {
			return nil, err
		}
		return &directFundHandle{obj: obj}, nil
	case "direct-defund":
		obj, err := objective.NewDirectDefund(objectiveID, p.ChannelID, p.FixedPart, p.Outcome, p.FinalTurnNum, p.MyIndex)
		if err != nil {
			return nil, err
		}
		return &directDefundHandle{obj: obj}, nil
	case "consensus-channel":
		obj, err := objective.NewConsensusChannel(objectiveID, p.ChannelID, p.FixedPart, p.Outcome, p.FinalTurnNum, p.MyIndex, p.IsLeader)
		if err != nil {
			return nil, err
		}
		return &consensusChannelHandle{obj: obj}, nil
	default:
		return nil, fmt.Errorf("engine: unknown objective kind %q", kind)
	}
}
