package objective

import (
	"math/big"
	"testing"

	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/state"
)

func TestDirectDefundHappyPath(t *testing.T) {
	alice, bob := mustSigner(t), mustSigner(t)
	fp := state.FixedPart{
		Participants:      []primitives.Address{alice.Address(), bob.Address()},
		ChannelNonce:      7,
		ChallengeDuration: 100,
	}
	channelID, err := fp.ChannelID()
	if err != nil {
		t.Fatalf("channel id: %v", err)
	}
	finalOutcome := state.Outcome{Allocations: []state.Allocation{
		{Destination: alice.Address(), Amount: big.NewInt(100)},
		{Destination: bob.Address(), Amount: big.NewInt(100)},
	}}
	objID := primitives.Hash{3}

	objAlice, err := NewDirectDefund(objID, channelID, fp, finalOutcome, 5, 0)
	if err != nil {
		t.Fatalf("new alice: %v", err)
	}
	objBob, err := NewDirectDefund(objID, channelID, fp, finalOutcome, 5, 1)
	if err != nil {
		t.Fatalf("new bob: %v", err)
	}

	a1, err := objAlice.Step(InEvent{Kind: InApprovalGranted}, alice)
	if err != nil {
		t.Fatalf("alice approve: %v", err)
	}
	b1, err := objBob.Step(InEvent{Kind: InApprovalGranted}, bob)
	if err != nil {
		t.Fatalf("bob approve: %v", err)
	}

	aliceMsg := findSendMessage(t, a1.Effects)
	bobMsg := findSendMessage(t, b1.Effects)

	b2, err := b1.Objective.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: 5,
		From: alice.Address(), Signature: aliceMsg.Payload.Signature,
	}, bob)
	if err != nil {
		t.Fatalf("bob records alice final sig: %v", err)
	}
	if len(b2.Effects) != 1 || b2.Effects[0].Kind != SideEffectSubmitTx {
		t.Fatalf("expected bob to submit conclude tx, got %+v", b2.Effects)
	}

	a2, err := a1.Objective.Step(InEvent{
		Kind: InStateReceived, ChannelID: channelID, TurnNum: 5,
		From: bob.Address(), Signature: bobMsg.Payload.Signature,
	}, alice)
	if err != nil {
		t.Fatalf("alice records bob final sig: %v", err)
	}
	if len(a2.Effects) != 1 || a2.Effects[0].Kind != SideEffectSubmitTx {
		t.Fatalf("expected alice to submit conclude tx, got %+v", a2.Effects)
	}

	w1, err := a2.Objective.Step(InEvent{Kind: InWithdrawCompleted, ChannelID: channelID, Depositor: alice.Address()}, alice)
	if err != nil {
		t.Fatalf("alice withdraw: %v", err)
	}
	if w1.Objective.Status != StatusApproved {
		t.Fatalf("expected still approved pending bob's withdrawal, got %s", w1.Objective.Status)
	}
	w2, err := w1.Objective.Step(InEvent{Kind: InWithdrawCompleted, ChannelID: channelID, Depositor: bob.Address()}, alice)
	if err != nil {
		t.Fatalf("bob withdraw: %v", err)
	}
	if w2.Objective.Status != StatusComplete {
		t.Fatalf("expected complete after both withdrawals, got %s", w2.Objective.Status)
	}
}
