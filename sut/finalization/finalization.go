// Package finalization simulates optimistic block finalization: a proposed
// block is either challenged within its challenge period or finalized.
package finalization

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/util"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
)

var (
	StateProposed   = sut.State{Name: "Proposed"}
	StateChallenged = sut.State{Name: "Challenged", Terminal: true}
	StateFinalized  = sut.State{Name: "Finalized", Terminal: true}
)

// Transitions is the state machine of a proposed block.
var Transitions = sut.Graph{
	StateProposed.Name: {StateChallenged.Name, StateFinalized.Name},
}

const (
	ActionChallenge sut.Action = "challenge"
	// ActionFinalize is accepted only once the challenge period has ended.
	ActionFinalize sut.Action = "finalize"
	// ActionForceFinalize finalizes a proposed block while its challenge
	// period is still open.
	ActionForceFinalize sut.Action = "force_finalize"
)

// Payload proposes a block.
type Payload struct {
	BlockNumber uint64 `cbor:"1,keyasint"`
	StateRoot   []byte `cbor:"2,keyasint"`
	Proposer    string `cbor:"3,keyasint"`
	// Invalid marks a block whose state root a watcher will dispute.
	Invalid bool `cbor:"4,keyasint"`
}

// Block is the record of a proposed block.
type Block struct {
	Payload    Payload
	ProposedAt time.Time
	Deadline   time.Time
	ResolvedBy string
}

func (b *Block) Clone() sut.Record {
	c := *b
	return &c
}

// Config calibrates the simulation.
type Config struct {
	// ChallengePeriod is how long after its proposal a block can be challenged.
	// A block finalizes only after it has ended.
	ChallengePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{ChallengePeriod: time.Minute}
}

// SUT is the block finalization protocol. Blocks are keyed by number, so a
// block number can only be proposed once.
type SUT struct {
	log   zerolog.Logger
	cfg   Config
	store *sut.Store
	nodes *chain.Nodes
	now   func() time.Time
}

var _ sut.SUT = (*SUT)(nil)

func New(log zerolog.Logger, cfg Config, nodes *chain.Nodes) *SUT {
	return &SUT{
		log:   log.With().Str("component", "finalization_sut").Logger(),
		cfg:   cfg,
		store: sut.NewStore(),
		nodes: nodes,
		now:   time.Now,
	}
}

// Store exposes the entity store for audits.
func (s *SUT) Store() *sut.Store {
	return s.store
}

// BlockID returns the entity id of a block number.
func BlockID(number uint64) sut.EntityID {
	return sut.EntityID(fmt.Sprintf("block-%d", number))
}

func (s *SUT) Submit(_ context.Context, kind load.Kind, payload []byte) (sut.EntityID, error) {
	if kind != load.KindFinalizationBlock {
		return "", sut.NewInvalidPayloadErrorf("unsupported kind %s", kind)
	}
	var p Payload
	err := load.DecodePayload(payload, &p)
	if err != nil {
		return "", sut.NewInvalidPayloadError(err)
	}
	if len(p.StateRoot) != 32 {
		return "", sut.NewInvalidPayloadErrorf("state root must be 32 bytes")
	}
	if p.Proposer == "" {
		return "", sut.NewInvalidPayloadErrorf("missing proposer")
	}

	now := s.now()
	block := &Block{
		Payload:    p,
		ProposedAt: now,
		Deadline:   now.Add(s.cfg.ChallengePeriod),
	}
	e, err := s.store.CreateWithID(BlockID(p.BlockNumber), kind, StateProposed, block)
	if err != nil {
		return "", sut.NewInvalidPayloadErrorf("block %d already proposed", p.BlockNumber)
	}
	return e.ID, nil
}

// Advance challenges or finalizes a proposed block. Exactly one of the two
// succeeds per block; concurrent attempts are serialized by the store and
// the loser observes an IllegalTransitionError. A challenge is accepted while
// the challenge period is open, a finalization only after it has ended unless
// it is forced.
//
// With ActionNext an invalid block is challenged while its challenge period is
// open. Any other block is finalized once the period has ended: Advance waits
// for the deadline without holding the block, so a challenge can still win.
func (s *SUT) Advance(ctx context.Context, id sut.EntityID, input sut.Input) (sut.State, error) {
	if input.Action == sut.ActionNext {
		err := s.awaitDeadline(ctx, id)
		if err != nil {
			return sut.State{}, err
		}
	}

	var state sut.State
	err := s.store.Update(ctx, id, func(e *sut.Entity) error {
		defer func() { state = e.State }()
		if e.State != StateProposed {
			return sut.NewIllegalTransitionErrorf(e.State.Name, input.Action, "block is already resolved")
		}
		block := e.Data.(*Block)
		now := s.now()
		open := now.Before(block.Deadline)

		action := input.Action
		if action == sut.ActionNext {
			action = ActionFinalize
			if block.Payload.Invalid && open {
				action = ActionChallenge
			}
		}

		switch action {
		case ActionChallenge:
			if !open {
				return sut.NewIllegalTransitionErrorf(e.State.Name, action, "challenge period ended at %s", block.Deadline)
			}
		case ActionFinalize:
			if open {
				return sut.NewIllegalTransitionErrorf(e.State.Name, action, "challenge period open until %s", block.Deadline)
			}
		case ActionForceFinalize:
		default:
			return sut.NewIllegalTransitionErrorf(e.State.Name, action, "unknown action")
		}

		node, err := s.route()
		if err != nil {
			return err
		}
		block.ResolvedBy = node

		if action == ActionChallenge {
			e.Transition(StateChallenged, action, now)
			s.log.Debug().Uint64("block", block.Payload.BlockNumber).Msg("block challenged")
			return nil
		}
		e.Transition(StateFinalized, action, now)
		return nil
	})
	return state, err
}

// awaitDeadline sleeps until the challenge period of a proposed valid block
// has ended. Blocks that are resolved, or that will be challenged, return
// immediately.
func (s *SUT) awaitDeadline(ctx context.Context, id sut.EntityID) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	block := e.Data.(*Block)
	if e.State != StateProposed || block.Payload.Invalid {
		return nil
	}
	wait := block.Deadline.Sub(s.now())
	if wait <= 0 {
		return nil
	}
	return util.Sleep(ctx, wait)
}

func (s *SUT) route() (string, error) {
	if s.nodes == nil {
		return "", nil
	}
	return s.nodes.Route()
}

func (s *SUT) CurrentState(ctx context.Context, id sut.EntityID) (sut.State, error) {
	return s.store.State(ctx, id)
}
