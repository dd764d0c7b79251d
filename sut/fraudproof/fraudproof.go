// Package fraudproof simulates fraud proof verification followed by a
// bisection game that narrows the dispute down to a single transaction.
package fraudproof

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
)

var (
	StatePending    = sut.State{Name: "Pending"}
	StateVerified   = sut.State{Name: "Verified"}
	StateRejected   = sut.State{Name: "Rejected", Terminal: true}
	StateInProgress = sut.State{Name: "BisectionInProgress"}
	StateResolved   = sut.State{Name: "Resolved", Terminal: true}
)

// Transitions is the state machine of a fraud proof.
var Transitions = sut.Graph{
	StatePending.Name:    {StateVerified.Name, StateRejected.Name},
	StateVerified.Name:   {StateInProgress.Name},
	StateInProgress.Name: {StateInProgress.Name, StateResolved.Name},
}

const (
	ActionVerify sut.Action = "verify"
	ActionBisect sut.Action = "bisect"
)

// MaxTxCount bounds the disputed range so that halving reaches a single
// transaction within MaxBisectionSteps.
const (
	MaxBisectionSteps = 10
	MaxTxCount        = 1 << MaxBisectionSteps
)

// Payload is a fraud proof submission.
type Payload struct {
	BlockNumber   uint64 `cbor:"1,keyasint"`
	PreStateRoot  []byte `cbor:"2,keyasint"`
	PostStateRoot []byte `cbor:"3,keyasint"`
	TxCount       uint32 `cbor:"4,keyasint"`
	DisputedTx    uint32 `cbor:"5,keyasint"`
	Challenger    string `cbor:"6,keyasint"`
}

func (p Payload) validate() error {
	if len(p.PreStateRoot) != 32 || len(p.PostStateRoot) != 32 {
		return fmt.Errorf("state roots must be 32 bytes")
	}
	if p.TxCount == 0 || p.TxCount > MaxTxCount {
		return fmt.Errorf("tx count %d out of range [1, %d]", p.TxCount, MaxTxCount)
	}
	if p.DisputedTx >= p.TxCount {
		return fmt.Errorf("disputed tx %d outside of block with %d txs", p.DisputedTx, p.TxCount)
	}
	if p.Challenger == "" {
		return fmt.Errorf("missing challenger")
	}
	return nil
}

// Proof is the record of a fraud proof entity.
type Proof struct {
	Payload    Payload
	VerifiedBy string
	// Start and End delimit the disputed range [Start, End).
	Start uint32
	End   uint32
	Steps int
}

func (p *Proof) Clone() sut.Record {
	c := *p
	return &c
}

// Config calibrates the simulation.
type Config struct {
	// VerifyRate is the probability that a submitted proof is found valid.
	VerifyRate float64
	// ResolveChance is the probability that a bisection step ends the game early.
	ResolveChance float64
}

func DefaultConfig() Config {
	return Config{
		VerifyRate:    0.9,
		ResolveChance: 0.1,
	}
}

// SUT is the fraud proof protocol.
type SUT struct {
	log   zerolog.Logger
	cfg   Config
	store *sut.Store
	nodes *chain.Nodes
	dice  *sut.Dice
	now   func() time.Time
}

var _ sut.SUT = (*SUT)(nil)

func New(log zerolog.Logger, cfg Config, nodes *chain.Nodes, dice *sut.Dice) *SUT {
	return &SUT{
		log:   log.With().Str("component", "fraud_proof_sut").Logger(),
		cfg:   cfg,
		store: sut.NewStore(),
		nodes: nodes,
		dice:  dice,
		now:   time.Now,
	}
}

// Store exposes the entity store for audits.
func (s *SUT) Store() *sut.Store {
	return s.store
}

func (s *SUT) Submit(_ context.Context, kind load.Kind, payload []byte) (sut.EntityID, error) {
	if kind != load.KindFraudProof {
		return "", sut.NewInvalidPayloadErrorf("unsupported kind %s", kind)
	}
	var p Payload
	err := load.DecodePayload(payload, &p)
	if err != nil {
		return "", sut.NewInvalidPayloadError(err)
	}
	err = p.validate()
	if err != nil {
		return "", sut.NewInvalidPayloadError(err)
	}

	e := s.store.Create(kind, StatePending, &Proof{Payload: p})
	return e.ID, nil
}

func (s *SUT) Advance(ctx context.Context, id sut.EntityID, input sut.Input) (sut.State, error) {
	var state sut.State
	err := s.store.Update(ctx, id, func(e *sut.Entity) error {
		defer func() { state = e.State }()
		proof := e.Data.(*Proof)

		action := input.Action
		if action == sut.ActionNext {
			action = s.nextAction(e.State)
		}

		switch {
		case action == ActionVerify && e.State == StatePending:
			return s.verify(e, proof)
		case action == ActionBisect && (e.State == StateVerified || e.State == StateInProgress):
			s.bisect(e, proof)
			return nil
		default:
			return sut.NewIllegalTransitionErrorf(e.State.Name, input.Action, "not applicable to a fraud proof")
		}
	})
	return state, err
}

func (s *SUT) nextAction(state sut.State) sut.Action {
	switch state {
	case StatePending:
		return ActionVerify
	case StateVerified, StateInProgress:
		return ActionBisect
	default:
		return sut.ActionNext
	}
}

func (s *SUT) verify(e *sut.Entity, proof *Proof) error {
	if s.nodes != nil {
		node, err := s.nodes.Route()
		if err != nil {
			return err
		}
		proof.VerifiedBy = node
	}
	if s.dice.Chance(s.cfg.VerifyRate) {
		e.Transition(StateVerified, ActionVerify, s.now())
		return nil
	}
	e.Transition(StateRejected, ActionVerify, s.now())
	s.log.Debug().Str("proof", string(e.ID)).Uint64("block", proof.Payload.BlockNumber).Msg("fraud proof rejected")
	return nil
}

// bisect performs one step of the bisection game. The first step opens the
// game over the whole block; every step halves the disputed range towards
// the faulty transaction.
func (s *SUT) bisect(e *sut.Entity, proof *Proof) {
	if e.State == StateVerified {
		proof.Start, proof.End = 0, proof.Payload.TxCount
		e.Transition(StateInProgress, ActionBisect, s.now())
		return
	}

	mid := proof.Start + (proof.End-proof.Start)/2
	if proof.Payload.DisputedTx < mid {
		proof.End = mid
	} else {
		proof.Start = mid
	}
	proof.Steps++

	if proof.End-proof.Start <= 1 || proof.Steps >= MaxBisectionSteps || s.dice.Chance(s.cfg.ResolveChance) {
		e.Transition(StateResolved, ActionBisect, s.now())
		return
	}
	e.Transition(StateInProgress, ActionBisect, s.now())
}

func (s *SUT) CurrentState(ctx context.Context, id sut.EntityID) (sut.State, error) {
	return s.store.State(ctx, id)
}
