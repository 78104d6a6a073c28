package engine

import (
	"math/big"
	"testing"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
	"github.com/evchannel/core/pkg/kvdb"
	"github.com/evchannel/core/pkg/objective"
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/signer"
	"github.com/evchannel/core/pkg/snapshot"
	"github.com/evchannel/core/pkg/state"
)

func mustSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return s
}

func newTestEngine(t *testing.T, s *signer.Signer) *Engine {
	t.Helper()
	store := eventstore.NewMemoryStore(0)
	mgr := snapshot.NewManager(kvdb.NewMemory())
	return New(store, mgr, s, nil, nil)
}

func findEffect(effects []objective.SideEffect, kind objective.SideEffectKind) (objective.SideEffect, bool) {
	for _, e := range effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return objective.SideEffect{}, false
}

// TestEngineDirectFundHappyPath runs Alice's engine through a full
// DirectFund funding round, with Bob's side of the protocol simulated by
// a bare objective value (no engine) and fed into Alice's engine as
// collaborator events — the same shape chainbridge/transport would use.
func TestEngineDirectFundHappyPath(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      7,
		ChallengeDuration: 3600,
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		t.Fatalf("channel id: %v", err)
	}
	outcome := state.Outcome{Allocations: []state.Allocation{
		{Destination: alice.Address(), Amount: big.NewInt(50)},
		{Destination: bob.Address(), Amount: big.NewInt(50)},
	}}
	objID := primitives.Hash{0x42}

	bobObj, err := objective.NewDirectFund(objID, channelID, fp, outcome, 1)
	if err != nil {
		t.Fatalf("bob objective: %v", err)
	}

	eng := newTestEngine(t, alice)
	if _, err := eng.CreateDirectFund(objID, fp, outcome, 0, 1); err != nil {
		t.Fatalf("create direct fund: %v", err)
	}

	effects, err := eng.Approve(objID, 2)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	alicePrefund, ok := findEffect(effects, objective.SideEffectSendMessage)
	if !ok {
		t.Fatalf("expected alice's approval to send her prefund signature, got %+v", effects)
	}

	bobApproved, err := bobObj.Step(objective.InEvent{Kind: objective.InApprovalGranted}, bob)
	if err != nil {
		t.Fatalf("bob approve: %v", err)
	}
	bobObj = bobApproved.Objective
	bobPrefundMsg, ok := findEffect(bobApproved.Effects, objective.SideEffectSendMessage)
	if !ok {
		t.Fatalf("expected bob's approval to send his prefund signature")
	}

	// Bob receives Alice's prefund signature directly (not through an
	// engine in this test).
	bobAfterAlice, err := bobObj.Step(objective.InEvent{
		Kind: objective.InStateReceived, ChannelID: channelID, TurnNum: 0,
		From: alice.Address(), Signature: alicePrefund.Payload.Signature,
	}, bob)
	if err != nil {
		t.Fatalf("bob records alice prefund: %v", err)
	}
	bobObj = bobAfterAlice.Objective

	// Alice's engine receives Bob's prefund signature as a collaborator
	// event and should auto-crank into submitting her deposit.
	offset, err := eng.IngestCollaboratorEvent(event.StateReceivedPayload{
		ChannelID: channelID, TurnNum: 0, From: bob.Address(), Signature: bobPrefundMsg.Payload.Signature,
	}, 3)
	if err != nil {
		t.Fatalf("ingest bob prefund: %v", err)
	}
	if offset == 0 && eng.Store().Len() == 0 {
		t.Fatalf("expected the collaborator event to be appended")
	}

	// Both sides observe Alice's deposit.
	depAlice := event.DepositDetectedPayload{ChannelID: channelID, Depositor: alice.Address()}
	if _, err := eng.IngestCollaboratorEvent(depAlice, 4); err != nil {
		t.Fatalf("ingest alice deposit: %v", err)
	}
	bobAfterAliceDep, err := bobObj.Step(objective.InEvent{Kind: objective.InDepositDetected, ChannelID: channelID, Depositor: alice.Address()}, bob)
	if err != nil {
		t.Fatalf("bob observes alice deposit: %v", err)
	}
	bobObj = bobAfterAliceDep.Objective
	bobDepositEffect, ok := findEffect(bobAfterAliceDep.Effects, objective.SideEffectSubmitTx)
	if !ok {
		t.Fatalf("expected bob to submit his own deposit now")
	}
	_ = bobDepositEffect

	// Both sides observe Bob's deposit; both should now send postfund
	// signatures.
	depBob := event.DepositDetectedPayload{ChannelID: channelID, Depositor: bob.Address()}
	if _, err := eng.IngestCollaboratorEvent(depBob, 5); err != nil {
		t.Fatalf("ingest bob deposit: %v", err)
	}
	bobAfterBobDep, err := bobObj.Step(objective.InEvent{Kind: objective.InDepositDetected, ChannelID: channelID, Depositor: bob.Address()}, bob)
	if err != nil {
		t.Fatalf("bob observes own deposit: %v", err)
	}
	bobObj = bobAfterBobDep.Objective
	bobPostfundMsg, ok := findEffect(bobAfterBobDep.Effects, objective.SideEffectSendMessage)
	if !ok {
		t.Fatalf("expected bob to send his postfund signature")
	}

	n := fp.N()
	if _, err := eng.IngestCollaboratorEvent(event.StateReceivedPayload{
		ChannelID: channelID, TurnNum: postfundTurn(n), From: bob.Address(), Signature: bobPostfundMsg.Payload.Signature,
	}, 6); err != nil {
		t.Fatalf("ingest bob postfund: %v", err)
	}

	eng.mu.Lock()
	_, stillActive := eng.active[objID]
	eng.mu.Unlock()
	if stillActive {
		t.Fatalf("expected objective to be deregistered once complete")
	}
}

// postfundTurn mirrors the objective package's unexported formula for the
// highest turn number in the DirectFund protocol (spec §4.7 "Turn
// numbering"): prefund signatures all sign turn 0 and postfund signatures
// all sign turn 2n-1 (turn 3 for two participants).
func postfundTurn(n int) uint64 { return uint64(2*n - 1) }

// TestEngineDuplicateEventRejected exercises the dedup decision spec §9
// assigns to the layer above the log, not the log itself.
func TestEngineDuplicateEventRejected(t *testing.T) {
	alice := mustSigner(t)
	eng := newTestEngine(t, alice)
	p := event.MessageReceivedPayload{MessageID: primitives.Hash{1}, From: alice.Address(), ChannelID: primitives.Hash{2}, Body: []byte("hi")}

	if _, err := eng.IngestCollaboratorEvent(p, 1); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := eng.IngestCollaboratorEvent(p, 1); err != ErrDuplicateEvent {
		t.Fatalf("expected ErrDuplicateEvent on replay, got %v", err)
	}
	if eng.Store().Len() != 1 {
		t.Fatalf("expected exactly one event in the log, got %d", eng.Store().Len())
	}
}

// TestEngineRejectDeregisters confirms a rejected objective stops
// receiving cranks.
func TestEngineRejectDeregisters(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      1,
		ChallengeDuration: 100,
	}
	outcome := state.Outcome{}
	objID := primitives.Hash{3}

	eng := newTestEngine(t, alice)
	if _, err := eng.CreateDirectFund(objID, fp, outcome, 0, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Reject(objID, "changed my mind", 2); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := eng.Crank(objID, objective.InEvent{Kind: objective.InApprovalGranted}, 3); err == nil {
		t.Fatalf("expected crank on a rejected objective to fail")
	}
}

// TestEngineBootstrapResumesActiveObjective simulates a process restart
// midway through a DirectFund round: a fresh Engine over the same store
// must rebuild its dedup set and re-register the in-flight objective so
// cranking can continue to completion exactly as it would have without
// the restart.
func TestEngineBootstrapResumesActiveObjective(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      9,
		ChallengeDuration: 3600,
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		t.Fatalf("channel id: %v", err)
	}
	outcome := state.Outcome{Allocations: []state.Allocation{
		{Destination: alice.Address(), Amount: big.NewInt(50)},
		{Destination: bob.Address(), Amount: big.NewInt(50)},
	}}
	objID := primitives.Hash{0x99}

	bobObj, err := objective.NewDirectFund(objID, channelID, fp, outcome, 1)
	if err != nil {
		t.Fatalf("bob objective: %v", err)
	}

	store := eventstore.NewMemoryStore(0)
	mgr := snapshot.NewManager(kvdb.NewMemory())
	eng := New(store, mgr, alice, nil, nil)
	if _, err := eng.CreateDirectFund(objID, fp, outcome, 0, 1); err != nil {
		t.Fatalf("create direct fund: %v", err)
	}
	effects, err := eng.Approve(objID, 2)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	alicePrefund, ok := findEffect(effects, objective.SideEffectSendMessage)
	if !ok {
		t.Fatalf("expected alice's approval to send her prefund signature")
	}

	bobApproved, err := bobObj.Step(objective.InEvent{Kind: objective.InApprovalGranted}, bob)
	if err != nil {
		t.Fatalf("bob approve: %v", err)
	}
	bobObj = bobApproved.Objective
	bobPrefundMsg, ok := findEffect(bobApproved.Effects, objective.SideEffectSendMessage)
	if !ok {
		t.Fatalf("expected bob's approval to send his prefund signature")
	}
	bobAfterAlice, err := bobObj.Step(objective.InEvent{
		Kind: objective.InStateReceived, ChannelID: channelID, TurnNum: 0,
		From: alice.Address(), Signature: alicePrefund.Payload.Signature,
	}, bob)
	if err != nil {
		t.Fatalf("bob records alice prefund: %v", err)
	}
	bobObj = bobAfterAlice.Objective

	if _, err := eng.IngestCollaboratorEvent(event.StateReceivedPayload{
		ChannelID: channelID, TurnNum: 0, From: bob.Address(), Signature: bobPrefundMsg.Payload.Signature,
	}, 3); err != nil {
		t.Fatalf("ingest bob prefund: %v", err)
	}

	// The process "restarts": a brand new Engine over the same store,
	// with nothing in memory until Bootstrap runs.
	resumed := New(store, mgr, alice, nil, nil)
	if _, stillActive := resumed.active[objID]; stillActive {
		t.Fatalf("fresh engine should start with an empty active registry")
	}
	registered, err := resumed.Bootstrap()
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if registered != 1 {
		t.Fatalf("expected bootstrap to re-register 1 objective, got %d", registered)
	}
	if _, ok := resumed.active[objID]; !ok {
		t.Fatalf("expected objective %x to be active after bootstrap", objID)
	}

	// Re-approving after the restart must be rejected as a duplicate of
	// the event already in the log — proof that seen survived Bootstrap.
	if _, err := resumed.Approve(objID, 2); err != ErrDuplicateEvent {
		t.Fatalf("expected re-approval after bootstrap to be rejected as a duplicate, got %v", err)
	}

	// Deposits observed after the restart should still drive the
	// objective all the way to completion through the resumed engine.
	depAlice := event.DepositDetectedPayload{ChannelID: channelID, Depositor: alice.Address()}
	if _, err := resumed.IngestCollaboratorEvent(depAlice, 4); err != nil {
		t.Fatalf("ingest alice deposit: %v", err)
	}
	bobAfterAliceDep, err := bobObj.Step(objective.InEvent{Kind: objective.InDepositDetected, ChannelID: channelID, Depositor: alice.Address()}, bob)
	if err != nil {
		t.Fatalf("bob observes alice deposit: %v", err)
	}
	bobObj = bobAfterAliceDep.Objective

	depBob := event.DepositDetectedPayload{ChannelID: channelID, Depositor: bob.Address()}
	if _, err := resumed.IngestCollaboratorEvent(depBob, 5); err != nil {
		t.Fatalf("ingest bob deposit: %v", err)
	}
	bobAfterBobDep, err := bobObj.Step(objective.InEvent{Kind: objective.InDepositDetected, ChannelID: channelID, Depositor: bob.Address()}, bob)
	if err != nil {
		t.Fatalf("bob observes own deposit: %v", err)
	}
	bobPostfundMsg, ok := findEffect(bobAfterBobDep.Effects, objective.SideEffectSendMessage)
	if !ok {
		t.Fatalf("expected bob to send his postfund signature")
	}

	n := fp.N()
	if _, err := resumed.IngestCollaboratorEvent(event.StateReceivedPayload{
		ChannelID: channelID, TurnNum: postfundTurn(n), From: bob.Address(), Signature: bobPostfundMsg.Payload.Signature,
	}, 6); err != nil {
		t.Fatalf("ingest bob postfund: %v", err)
	}

	if _, stillActive := resumed.active[objID]; stillActive {
		t.Fatalf("expected objective to complete and deregister after resuming from bootstrap")
	}
}
