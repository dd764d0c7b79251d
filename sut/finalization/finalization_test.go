package finalization_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/finalization"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func propose(t *testing.T, s *finalization.SUT, number uint64, invalid bool) sut.EntityID {
	b, err := load.EncodePayload(finalization.Payload{
		BlockNumber: number,
		StateRoot:   bytes.Repeat([]byte{9}, 32),
		Proposer:    "sequencer",
		Invalid:     invalid,
	})
	require.NoError(t, err)
	id, err := s.Submit(context.Background(), load.KindFinalizationBlock, b)
	require.NoError(t, err)
	return id
}

func shortPeriod() finalization.Config {
	return finalization.Config{ChallengePeriod: 20 * time.Millisecond}
}

// Next waits for the challenge period of a valid block before finalizing it.
func TestFinalization_NextFinalizesValidBlock(t *testing.T) {
	s := finalization.New(unittest.Logger(), shortPeriod(), nil)
	id := propose(t, s, 1, false)
	assert.Equal(t, finalization.BlockID(1), id)

	state, err := s.Advance(context.Background(), id, sut.Next())
	require.NoError(t, err)
	assert.Equal(t, finalization.StateFinalized, state)

	e, err := s.Store().Get(context.Background(), id)
	require.NoError(t, err)
	block := e.Data.(*finalization.Block)
	require.Len(t, e.History, 1)
	assert.False(t, e.History[0].At.Before(block.Deadline), "finalized before the challenge deadline")

	_, err = s.Advance(context.Background(), id, sut.Input{Action: finalization.ActionFinalize})
	assert.True(t, sut.IsIllegalTransitionError(err))
}

func TestFinalization_NextChallengesInvalidBlock(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.DefaultConfig(), nil)
	id := propose(t, s, 2, true)

	state, err := s.Advance(context.Background(), id, sut.Next())
	require.NoError(t, err)
	assert.Equal(t, finalization.StateChallenged, state)

	// a challenged block is never finalized afterwards
	_, err = s.Advance(context.Background(), id, sut.Input{Action: finalization.ActionFinalize})
	assert.True(t, sut.IsIllegalTransitionError(err))
	state, err = s.CurrentState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, finalization.StateChallenged, state)
}

func TestFinalization_FinalizeBeforeDeadline(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.DefaultConfig(), nil)
	ctx := context.Background()
	id := propose(t, s, 77, false)

	state, err := s.Advance(ctx, id, sut.Input{Action: finalization.ActionFinalize})
	assert.True(t, sut.IsIllegalTransitionError(err))
	assert.Equal(t, finalization.StateProposed, state)

	state, err = s.CurrentState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, finalization.StateProposed, state)

	// an explicit force skips the challenge period
	state, err = s.Advance(ctx, id, sut.Input{Action: finalization.ActionForceFinalize})
	require.NoError(t, err)
	assert.Equal(t, finalization.StateFinalized, state)
}

// Next on a valid block gives up when ctx ends before the deadline.
func TestFinalization_NextWaitIsCancellable(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.DefaultConfig(), nil)
	id := propose(t, s, 78, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	unittest.RequireReturnsBefore(t, func() {
		_, err := s.Advance(ctx, id, sut.Next())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}, time.Second, "advance ignored the context")

	state, err := s.CurrentState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, finalization.StateProposed, state)
}

// A challenge arriving while Next waits for the deadline still wins.
func TestFinalization_ChallengeDuringWait(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.Config{ChallengePeriod: 200 * time.Millisecond}, nil)
	ctx := context.Background()
	id := propose(t, s, 79, false)

	done := make(chan error, 1)
	go func() {
		_, err := s.Advance(ctx, id, sut.Next())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	state, err := s.Advance(ctx, id, sut.Input{Action: finalization.ActionChallenge})
	require.NoError(t, err)
	assert.Equal(t, finalization.StateChallenged, state)

	select {
	case err := <-done:
		assert.True(t, sut.IsIllegalTransitionError(err))
	case <-time.After(time.Second):
		t.Fatal("waiting finalization did not return")
	}
}

func TestFinalization_ChallengeAfterDeadline(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.Config{ChallengePeriod: time.Millisecond}, nil)
	id := propose(t, s, 3, true)
	time.Sleep(5 * time.Millisecond)

	_, err := s.Advance(context.Background(), id, sut.Input{Action: finalization.ActionChallenge})
	assert.True(t, sut.IsIllegalTransitionError(err))

	// once the period is over, even an invalid block finalizes
	state, err := s.Advance(context.Background(), id, sut.Next())
	require.NoError(t, err)
	assert.Equal(t, finalization.StateFinalized, state)
}

func TestFinalization_DuplicateBlock(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.DefaultConfig(), nil)
	propose(t, s, 4, false)

	b, err := load.EncodePayload(finalization.Payload{
		BlockNumber: 4,
		StateRoot:   bytes.Repeat([]byte{9}, 32),
		Proposer:    "sequencer",
	})
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), load.KindFinalizationBlock, b)
	assert.True(t, sut.IsInvalidPayloadError(err))
}

// Concurrent challenge and forced finalize attempts on one block: exactly one wins.
func TestFinalization_ConcurrentResolution(t *testing.T) {
	s := finalization.New(unittest.Logger(), finalization.DefaultConfig(), nil)
	ctx := context.Background()

	for block := uint64(10); block < 60; block++ {
		id := propose(t, s, block, false)

		var wins, losses atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			action := finalization.ActionForceFinalize
			if i%2 == 0 {
				action = finalization.ActionChallenge
			}
			wg.Add(1)
			go func(action sut.Action) {
				defer wg.Done()
				_, err := s.Advance(ctx, id, sut.Input{Action: action})
				if err == nil {
					wins.Inc()
					return
				}
				assert.True(t, sut.IsIllegalTransitionError(err))
				losses.Inc()
			}(action)
		}
		unittest.RequireReturnsBefore(t, wg.Wait, 5*time.Second, "resolution deadlocked")

		assert.Equal(t, int64(1), wins.Load())
		assert.Equal(t, int64(9), losses.Load())

		e, err := s.Store().Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, finalization.Transitions.CheckHistory(e))
		assert.Len(t, e.History, 1)
	}
}

func TestFinalization_RoutesToLiveNode(t *testing.T) {
	nodes := chain.DefaultNodes(unittest.Logger(), 2)
	s := finalization.New(unittest.Logger(), shortPeriod(), nodes)
	id := propose(t, s, 70, false)

	require.NoError(t, nodes.Fail(nodes.IDs()...))
	_, err := s.Advance(context.Background(), id, sut.Next())
	assert.True(t, sut.IsNodeUnavailableError(err))

	require.NoError(t, nodes.Recover("validator-2"))
	_, err = s.Advance(context.Background(), id, sut.Next())
	require.NoError(t, err)

	e, err := s.Store().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "validator-2", e.Data.(*finalization.Block).ResolvedBy)
}
