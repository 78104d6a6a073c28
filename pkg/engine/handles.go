package engine

import (
	"github.com/evchannel/core/pkg/objective"
	"github.com/evchannel/core/pkg/primitives"
	"github.com/evchannel/core/pkg/signer"
)

// The three handle types below adapt each objective variant's generic
// CrankResult[T] to the engine's single non-generic stepper interface:
// each holds the current typed value and replaces it in place with the
// evolved one Step returns, so the registry never needs to know which
// of the three protocols a given entry is running.

type directFundHandle struct{ obj objective.DirectFund }

func (h *directFundHandle) channelID() primitives.Hash { return h.obj.ChannelID }

func (h *directFundHandle) step(ev objective.InEvent, s *signer.Signer) ([]objective.SideEffect, objective.WaitingFor, bool, error) {
	res, err := h.obj.Step(ev, s)
	if err != nil {
		return nil, h.obj.WaitingFor(), false, err
	}
	h.obj = res.Objective
	done := h.obj.Status == objective.StatusComplete && res.Waiting == objective.WaitingNothing
	return res.Effects, res.Waiting, done, nil
}

type directDefundHandle struct{ obj objective.DirectDefund }

func (h *directDefundHandle) channelID() primitives.Hash { return h.obj.ChannelID }

func (h *directDefundHandle) step(ev objective.InEvent, s *signer.Signer) ([]objective.SideEffect, objective.WaitingFor, bool, error) {
	res, err := h.obj.Step(ev, s)
	if err != nil {
		return nil, h.obj.WaitingFor(), false, err
	}
	h.obj = res.Objective
	done := h.obj.Status == objective.StatusComplete && res.Waiting == objective.WaitingNothing
	return res.Effects, res.Waiting, done, nil
}

type consensusChannelHandle struct{ obj objective.ConsensusChannel }

func (h *consensusChannelHandle) channelID() primitives.Hash { return h.obj.ChannelID }

// ConsensusChannel objectives run for the life of the channel: leader
// and follower keep stepping proposals indefinitely, so a "done" crank
// never fires from here. It deregisters only via Engine.Reject.
func (h *consensusChannelHandle) step(ev objective.InEvent, s *signer.Signer) ([]objective.SideEffect, objective.WaitingFor, bool, error) {
	res, err := h.obj.Step(ev, s)
	if err != nil {
		return nil, h.obj.WaitingFor(), false, err
	}
	h.obj = res.Objective
	return res.Effects, res.Waiting, false, nil
}
