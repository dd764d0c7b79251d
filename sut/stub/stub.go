// Package stub provides a protocol-agnostic SUT that settles every entity
// in a single step, successfully with a configured probability.
package stub

import (
	"context"
	"time"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/util"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

var (
	StatePending   = sut.State{Name: "Pending"}
	StateConfirmed = sut.State{Name: "Confirmed", Terminal: true}
	StateFailed    = sut.State{Name: "Failed", Terminal: true}
)

// Config calibrates the stub.
type Config struct {
	SuccessRate float64
	// Delay is the time every Advance call takes, plus up to Jitter.
	Delay  time.Duration
	Jitter time.Duration
}

type record struct {
	payload []byte
}

func (r *record) Clone() sut.Record {
	c := *r
	return &c
}

// SUT accepts any kind and payload.
type SUT struct {
	cfg   Config
	dice  *sut.Dice
	store *sut.Store
}

var _ sut.SUT = (*SUT)(nil)

func New(cfg Config, dice *sut.Dice) *SUT {
	return &SUT{
		cfg:   cfg,
		dice:  dice,
		store: sut.NewStore(),
	}
}

func (s *SUT) Store() *sut.Store {
	return s.store
}

func (s *SUT) Submit(_ context.Context, kind load.Kind, payload []byte) (sut.EntityID, error) {
	e := s.store.Create(kind, StatePending, &record{payload: payload})
	return e.ID, nil
}

func (s *SUT) Advance(ctx context.Context, id sut.EntityID, input sut.Input) (sut.State, error) {
	err := util.Sleep(ctx, s.cfg.Delay+s.dice.Jitter(s.cfg.Jitter))
	if err != nil {
		return sut.State{}, err
	}

	var state sut.State
	err = s.store.Update(ctx, id, func(e *sut.Entity) error {
		defer func() { state = e.State }()
		if e.State.Terminal {
			return sut.NewIllegalTransitionErrorf(e.State.Name, input.Action, "entity already settled")
		}
		if s.dice.Chance(s.cfg.SuccessRate) {
			e.Transition(StateConfirmed, input.Action, time.Now())
			return nil
		}
		e.Transition(StateFailed, input.Action, time.Now())
		return sut.NewChainErrorf("stub", load.ErrorKindExecutionReverted, "simulated failure")
	})
	return state, err
}

func (s *SUT) CurrentState(ctx context.Context, id sut.EntityID) (sut.State, error) {
	return s.store.State(ctx, id)
}
