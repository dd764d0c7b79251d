package fraudproof_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/fraudproof"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func payload(t testing.TB, txCount, disputed uint32) []byte {
	b, err := load.EncodePayload(fraudproof.Payload{
		BlockNumber:   100,
		PreStateRoot:  bytes.Repeat([]byte{1}, 32),
		PostStateRoot: bytes.Repeat([]byte{2}, 32),
		TxCount:       txCount,
		DisputedTx:    disputed,
		Challenger:    "watcher",
	})
	require.NoError(t, err)
	return b
}

func alwaysValid() fraudproof.Config {
	return fraudproof.Config{VerifyRate: 1, ResolveChance: 0}
}

// drive advances the proof until it reaches a terminal state.
func drive(t *testing.T, s *fraudproof.SUT, id sut.EntityID) sut.State {
	ctx := context.Background()
	for i := 0; i < 2*fraudproof.MaxBisectionSteps+2; i++ {
		state, err := s.Advance(ctx, id, sut.Next())
		require.NoError(t, err)
		if state.Terminal {
			return state
		}
	}
	t.Fatal("proof did not reach a terminal state")
	return sut.State{}
}

func TestFraudProof_VerifiedAndResolved(t *testing.T) {
	s := fraudproof.New(unittest.Logger(), alwaysValid(), nil, sut.NewDice(1))
	id, err := s.Submit(context.Background(), load.KindFraudProof, payload(t, 1000, 617))
	require.NoError(t, err)

	assert.Equal(t, fraudproof.StateResolved, drive(t, s, id))

	e, err := s.Store().Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, fraudproof.Transitions.CheckHistory(e))

	proof := e.Data.(*fraudproof.Proof)
	assert.LessOrEqual(t, proof.Steps, fraudproof.MaxBisectionSteps)
	assert.Equal(t, uint32(617), proof.Start)
	assert.Equal(t, uint32(618), proof.End)
}

func TestFraudProof_Rejected(t *testing.T) {
	s := fraudproof.New(unittest.Logger(), fraudproof.Config{VerifyRate: 0}, nil, sut.NewDice(1))
	ctx := context.Background()
	id, err := s.Submit(ctx, load.KindFraudProof, payload(t, 8, 3))
	require.NoError(t, err)

	state, err := s.Advance(ctx, id, sut.Input{Action: fraudproof.ActionVerify})
	require.NoError(t, err)
	assert.Equal(t, fraudproof.StateRejected, state)

	_, err = s.Advance(ctx, id, sut.Next())
	assert.True(t, sut.IsIllegalTransitionError(err))
}

func TestFraudProof_IllegalActions(t *testing.T) {
	s := fraudproof.New(unittest.Logger(), alwaysValid(), nil, sut.NewDice(1))
	ctx := context.Background()
	id, err := s.Submit(ctx, load.KindFraudProof, payload(t, 8, 3))
	require.NoError(t, err)

	_, err = s.Advance(ctx, id, sut.Input{Action: fraudproof.ActionBisect})
	assert.True(t, sut.IsIllegalTransitionError(err))

	_, err = s.Advance(ctx, "missing", sut.Next())
	assert.ErrorIs(t, err, sut.ErrNotFound)
}

func TestFraudProof_InvalidPayload(t *testing.T) {
	s := fraudproof.New(unittest.Logger(), alwaysValid(), nil, sut.NewDice(1))
	ctx := context.Background()

	_, err := s.Submit(ctx, load.KindFraudProof, []byte{0xff, 0x00})
	assert.True(t, sut.IsInvalidPayloadError(err))

	_, err = s.Submit(ctx, load.KindFraudProof, payload(t, 4, 4))
	assert.True(t, sut.IsInvalidPayloadError(err))

	_, err = s.Submit(ctx, load.KindBridgeDeposit, payload(t, 4, 1))
	assert.True(t, sut.IsInvalidPayloadError(err))
}

// Verification fails while every rollup node is down and succeeds after recovery.
func TestFraudProof_NodeUnavailable(t *testing.T) {
	nodes := chain.DefaultNodes(unittest.Logger(), 1)
	s := fraudproof.New(unittest.Logger(), alwaysValid(), nodes, sut.NewDice(1))
	ctx := context.Background()
	id, err := s.Submit(ctx, load.KindFraudProof, payload(t, 8, 3))
	require.NoError(t, err)

	require.NoError(t, nodes.Fail(nodes.IDs()...))
	state, err := s.Advance(ctx, id, sut.Next())
	assert.True(t, sut.IsNodeUnavailableError(err))
	assert.Equal(t, fraudproof.StatePending, state)

	require.NoError(t, nodes.Recover(nodes.IDs()...))
	state, err = s.Advance(ctx, id, sut.Next())
	require.NoError(t, err)
	assert.Equal(t, fraudproof.StateVerified, state)
}

// Concurrent advances on one proof produce a valid path without skipped or
// repeated states.
func TestFraudProof_ConcurrentAdvance(t *testing.T) {
	s := fraudproof.New(unittest.Logger(), fraudproof.Config{VerifyRate: 1, ResolveChance: 0.2}, nil, sut.NewDice(5))
	ctx := context.Background()
	id, err := s.Submit(ctx, load.KindFraudProof, payload(t, 1024, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				state, err := s.Advance(ctx, id, sut.Next())
				if err != nil {
					assert.True(t, sut.IsIllegalTransitionError(err))
					return
				}
				if state.Terminal {
					return
				}
			}
		}()
	}
	wg.Wait()

	e, err := s.Store().Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, fraudproof.Transitions.CheckHistory(e))
	assert.True(t, e.State.Terminal)
}

// The bisection game ends within MaxBisectionSteps for any block.
func TestFraudProof_BisectionBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		txCount := rapid.Uint32Range(1, fraudproof.MaxTxCount).Draw(rt, "txCount")
		disputed := rapid.Uint32Range(0, txCount-1).Draw(rt, "disputed")
		resolve := rapid.Float64Range(0, 1).Draw(rt, "resolveChance")

		s := fraudproof.New(unittest.Logger(), fraudproof.Config{VerifyRate: 1, ResolveChance: resolve}, nil, sut.NewDice(int64(txCount)))
		ctx := context.Background()
		id, err := s.Submit(ctx, load.KindFraudProof, payload(t, txCount, disputed))
		if err != nil {
			rt.Fatal(err)
		}
		for i := 0; ; i++ {
			if i > fraudproof.MaxBisectionSteps+2 {
				rt.Fatalf("game did not end after %d advances", i)
			}
			state, err := s.Advance(ctx, id, sut.Next())
			if err != nil {
				rt.Fatal(err)
			}
			if state.Terminal {
				break
			}
		}
		e, err := s.Store().Get(ctx, id)
		if err != nil {
			rt.Fatal(err)
		}
		proof := e.Data.(*fraudproof.Proof)
		if proof.Steps > fraudproof.MaxBisectionSteps {
			rt.Fatalf("%d steps", proof.Steps)
		}
		if proof.Payload.DisputedTx < proof.Start || proof.Payload.DisputedTx >= proof.End {
			rt.Fatalf("disputed tx %d escaped range [%d, %d)", disputed, proof.Start, proof.End)
		}
	})
}
