package objective

import (
	"math/big"
	"testing"

	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/signer"
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

func findSendMessage(t *testing.T, effects []SideEffect) SideEffect {
	t.Helper()
	for _, e := range effects {
		if e.Kind == SideEffectSendMessage {
			return e
		}
	}
	t.Fatalf("expected a send_message side effect, got %+v", effects)
	return SideEffect{}
}

// TestDirectFundTwoPartyHappyPath mirrors spec §8 scenario 1: Alice and
// Bob approve, mutually exchange prefund signatures, deposit in index
// order, mutually exchange postfund signatures, and both reach Complete.
func TestDirectFundTwoPartyHappyPath(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      42,
		ChallengeDuration: 86400,
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		t.Fatalf("channel id: %v", err)
	}
	outcome := state.Outcome{Allocations: []state.Allocation{
		{Destination: alice.Address(), Amount: big.NewInt(100)},
		{Destination: bob.Address(), Amount: big.NewInt(100)},
	}}
	objID := primitives.Hash{9}

	objAlice, err := NewDirectFund(objID, channelID, fp, outcome, 0)
	if err != nil {
		t.Fatalf("new alice objective: %v", err)
	}
	objBob, err := NewDirectFund(objID, channelID, fp, outcome, 1)
	if err != nil {
		t.Fatalf("new bob objective: %v", err)
	}

	// Both approve.
	a1, err := objAlice.Step(InEvent{Kind: InApprovalGranted}, alice)
	if err != nil {
		t.Fatalf("alice approve: %v", err)
	}
	objAlice = a1.Objective
	b1, err := objBob.Step(InEvent{Kind: InApprovalGranted}, bob)
	if err != nil {
		t.Fatalf("bob approve: %v", err)
	}
	objBob = b1.Objective

	alicePrefundMsg := findSendMessage(t, a1.Effects)
	bobPrefundMsg := findSendMessage(t, b1.Effects)

	// Exchange prefund signatures.
	b2, err := objBob.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: 0,
		From: alice.Address(), Signature: alicePrefundMsg.Payload.Signature,
	}, bob)
	if err != nil {
		t.Fatalf("bob records alice prefund: %v", err)
	}
	objBob = b2.Objective
	if len(b2.Effects) != 0 {
		t.Fatalf("bob is not first to deposit, expected no effects, got %+v", b2.Effects)
	}
	if objBob.WaitingFor() != WaitingCompleteFunding {
		t.Fatalf("expected bob waiting on complete_funding, got %s", objBob.WaitingFor())
	}

	a2, err := objAlice.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: 0,
		From: bob.Address(), Signature: bobPrefundMsg.Payload.Signature,
	}, alice)
	if err != nil {
		t.Fatalf("alice records bob prefund: %v", err)
	}
	objAlice = a2.Objective
	if len(a2.Effects) != 1 || a2.Effects[0].Kind != SideEffectSubmitTx {
		t.Fatalf("expected alice to submit her deposit, got %+v", a2.Effects)
	}
	if new(big.Int).SetBytes(a2.Effects[0].TxValue).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected deposit amount 100, got %v", a2.Effects[0].TxValue)
	}

	// Chain bridge reports Alice's deposit to both sides.
	depAlice := InEvent{Kind: InDepositDetected, ChannelID: channelID, Depositor: alice.Address()}
	a3, err := objAlice.Step(depAlice, alice)
	if err != nil {
		t.Fatalf("alice observes own deposit: %v", err)
	}
	objAlice = a3.Objective
	if len(a3.Effects) != 0 {
		t.Fatalf("expected no further effects for alice yet, got %+v", a3.Effects)
	}
	b3, err := objBob.Step(depAlice, bob)
	if err != nil {
		t.Fatalf("bob observes alice's deposit: %v", err)
	}
	objBob = b3.Objective
	if len(b3.Effects) != 1 || b3.Effects[0].Kind != SideEffectSubmitTx {
		t.Fatalf("expected bob to now submit his deposit, got %+v", b3.Effects)
	}

	// Chain bridge reports Bob's deposit to both sides.
	depBob := InEvent{Kind: InDepositDetected, ChannelID: channelID, Depositor: bob.Address()}
	a4, err := objAlice.Step(depBob, alice)
	if err != nil {
		t.Fatalf("alice observes bob's deposit: %v", err)
	}
	objAlice = a4.Objective
	alicePostfundMsg := findSendMessage(t, a4.Effects)
	if objAlice.Status != StatusApproved {
		t.Fatalf("alice should not be complete yet, got %s", objAlice.Status)
	}

	b4, err := objBob.Step(depBob, bob)
	if err != nil {
		t.Fatalf("bob observes own deposit: %v", err)
	}
	objBob = b4.Objective
	bobPostfundMsg := findSendMessage(t, b4.Effects)

	// Exchange postfund signatures; both sides complete.
	n := fp.N()
	b5, err := objBob.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: postfundTurn(n),
		From: alice.Address(), Signature: alicePostfundMsg.Payload.Signature,
	}, bob)
	if err != nil {
		t.Fatalf("bob records alice postfund: %v", err)
	}
	if b5.Objective.Status != StatusComplete {
		t.Fatalf("expected bob complete, got %s", b5.Objective.Status)
	}

	a5, err := objAlice.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: postfundTurn(n),
		From: bob.Address(), Signature: bobPostfundMsg.Payload.Signature,
	}, alice)
	if err != nil {
		t.Fatalf("alice records bob postfund: %v", err)
	}
	if a5.Objective.Status != StatusComplete {
		t.Fatalf("expected alice complete, got %s", a5.Objective.Status)
	}
	if a5.Objective.WaitingFor() != WaitingNothing {
		t.Fatalf("expected terminal waiting tag, got %s", a5.Objective.WaitingFor())
	}
}

// TestDirectFundWrongChannelRejected mirrors spec §8 scenario 6.
func TestDirectFundWrongChannelRejected(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      1,
		ChallengeDuration: 100,
	}
	c1, err := fp.ChannelID()
	if err != nil {
		t.Fatalf("channel id: %v", err)
	}
	other := primitives.Hash{0xFF}
	outcome := state.Outcome{}
	obj, err := NewDirectFund(primitives.Hash{1}, c1, fp, outcome, 0)
	if err != nil {
		t.Fatalf("new objective: %v", err)
	}

	approved, err := obj.Step(InEvent{Kind: InApprovalGranted}, alice)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	before := approved.Objective

	result, err := before.Step(InEvent{Kind: InStateReceived, ChannelID: other, TurnNum: 0, From: bob.Address()}, alice)
	if err != ErrWrongChannel {
		t.Fatalf("expected ErrWrongChannel, got %v", err)
	}
	if result.Objective.Status != before.Status || result.Objective.ChannelID != before.ChannelID {
		t.Fatalf("objective must be unchanged on wrong-channel rejection")
	}
	if len(result.Effects) != 0 {
		t.Fatalf("expected no side effects on rejection, got %+v", result.Effects)
	}
}

func TestDirectFundParticipantNotFound(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	stranger := mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      1,
		ChallengeDuration: 100,
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		t.Fatalf("channel id: %v", err)
	}
	obj, err := NewDirectFund(primitives.Hash{1}, channelID, fp, state.Outcome{}, 0)
	if err != nil {
		t.Fatalf("new objective: %v", err)
	}
	result, err := obj.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: 0, From: stranger.Address(),
	}, alice)
	if err != ErrParticipantNotFound {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if result.Objective.Status != obj.Status {
		t.Fatalf("objective must be unchanged")
	}
}
