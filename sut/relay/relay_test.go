package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/relay"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func reliableNetwork(t *testing.T) *chain.Network {
	cfg := chain.DefaultConfig()
	cfg.SuccessRate = 1
	cfg.ConnectSuccessRate = 1
	cfg.TimeScale = 0.0001
	network, err := chain.NewNetwork(unittest.Logger(), cfg, sut.NewDice(3))
	require.NoError(t, err)
	return network
}

func transfer(nonce uint64) relay.Payload {
	return relay.Payload{
		Sender:      "alice",
		Recipient:   "bob",
		Amount:      5,
		Nonce:       nonce,
		SourceChain: "ethereum",
		DestChain:   "polygon",
	}
}

func submit(t *testing.T, r *relay.SUT, p relay.Payload) (sut.EntityID, error) {
	b, err := load.EncodePayload(p)
	require.NoError(t, err)
	return r.Submit(context.Background(), load.KindCrossChainTransfer, b)
}

func drive(t *testing.T, r *relay.SUT, id sut.EntityID) (sut.State, error) {
	ctx := context.Background()
	for {
		state, err := r.Advance(ctx, id, sut.Next())
		if err != nil || state.Terminal {
			return state, err
		}
	}
}

func TestRelay_CompletesBothPhases(t *testing.T) {
	r := relay.New(unittest.Logger(), relay.DefaultConfig(), reliableNetwork(t))
	id, err := submit(t, r, transfer(1))
	require.NoError(t, err)

	state, err := drive(t, r, id)
	require.NoError(t, err)
	assert.Equal(t, relay.StateCompleted, state)

	e, err := r.Store().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pending", "SourceConfirmed", "Completed"}, e.Path())
	assert.NoError(t, relay.Transitions.CheckHistory(e))
	record := e.Data.(*relay.Transfer)
	assert.NotEmpty(t, record.SourceReceipt)
	assert.NotEmpty(t, record.DestReceipt)
}

func TestRelay_ReplayDetection(t *testing.T) {
	r := relay.New(unittest.Logger(), relay.DefaultConfig(), reliableNetwork(t))

	t.Run("derived message id", func(t *testing.T) {
		_, err := submit(t, r, transfer(2))
		require.NoError(t, err)
		_, err = submit(t, r, transfer(2))
		assert.True(t, sut.IsReplayDetectedError(err))
		assert.Equal(t, load.ErrorKindReplayDetected, sut.KindOf(err))
	})

	t.Run("explicit message id", func(t *testing.T) {
		p := transfer(3)
		p.MessageID = "msg-1"
		_, err := submit(t, r, p)
		require.NoError(t, err)

		// a different transfer reusing the id is still a replay
		p = transfer(4)
		p.MessageID = "msg-1"
		_, err = submit(t, r, p)
		assert.True(t, sut.IsReplayDetectedError(err))
	})
}

func TestRelay_InvalidPayload(t *testing.T) {
	r := relay.New(unittest.Logger(), relay.DefaultConfig(), reliableNetwork(t))
	same := transfer(1)
	same.DestChain = same.SourceChain
	unknown := transfer(1)
	unknown.DestChain = "dogechain"

	for _, p := range []relay.Payload{same, unknown, {Amount: 1}} {
		_, err := submit(t, r, p)
		assert.True(t, sut.IsInvalidPayloadError(err))
	}
}

func TestRelay_PhaseErrors(t *testing.T) {
	network := reliableNetwork(t)
	r := relay.New(unittest.Logger(), relay.DefaultConfig(), network)

	require.NoError(t, network.Disconnect("ethereum"))
	id, err := submit(t, r, transfer(1))
	require.NoError(t, err)
	state, err := drive(t, r, id)
	assert.Equal(t, relay.StateFailed, state)
	assert.True(t, sut.IsPhaseError(err, sut.PhaseSource))
	assert.Equal(t, load.ErrorKindChainNotConnected, sut.KindOf(err))
	assert.Contains(t, err.Error(), "source_chain_error")

	// with the fault reverted, transfers complete again
	require.NoError(t, network.Connect(context.Background(), "ethereum"))
	id, err = submit(t, r, transfer(2))
	require.NoError(t, err)
	state, err = drive(t, r, id)
	require.NoError(t, err)
	assert.Equal(t, relay.StateCompleted, state)

	require.NoError(t, network.Disconnect("polygon"))
	id, err = submit(t, r, transfer(3))
	require.NoError(t, err)
	state, err = drive(t, r, id)
	assert.Equal(t, relay.StateFailed, state)
	assert.True(t, sut.IsPhaseError(err, sut.PhaseDestination))
}

func TestRelay_IllegalStep(t *testing.T) {
	r := relay.New(unittest.Logger(), relay.DefaultConfig(), reliableNetwork(t))
	id, err := submit(t, r, transfer(1))
	require.NoError(t, err)

	state, err := r.Advance(context.Background(), id, sut.Input{Action: relay.ActionDeliver})
	assert.True(t, sut.IsIllegalTransitionError(err))
	assert.Equal(t, relay.StatePending, state)
}

func TestRelay_CircuitBreaker(t *testing.T) {
	network := reliableNetwork(t)
	cfg := relay.DefaultConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = 50 * time.Millisecond
	r := relay.New(unittest.Logger(), cfg, network)

	require.NoError(t, network.Disconnect("ethereum"))
	for i := uint64(0); i < 2; i++ {
		id, err := submit(t, r, transfer(10+i))
		require.NoError(t, err)
		_, err = drive(t, r, id)
		assert.Equal(t, load.ErrorKindChainNotConnected, sut.KindOf(err))
	}
	assert.Equal(t, gobreaker.StateOpen, r.BreakerState("ethereum"))

	id, err := submit(t, r, transfer(20))
	require.NoError(t, err)
	_, err = drive(t, r, id)
	assert.Equal(t, load.ErrorKindCircuitOpen, sut.KindOf(err))

	// once the breaker lets a probe through, a healthy chain closes it again
	require.NoError(t, network.Connect(context.Background(), "ethereum"))
	require.Eventually(t, func() bool {
		return r.BreakerState("ethereum") == gobreaker.StateHalfOpen
	}, time.Second, 10*time.Millisecond)
	id, err = submit(t, r, transfer(21))
	require.NoError(t, err)
	state, err := drive(t, r, id)
	require.NoError(t, err)
	assert.Equal(t, relay.StateCompleted, state)
	assert.Equal(t, gobreaker.StateClosed, r.BreakerState("ethereum"))
}

func TestRelay_AbandonedTransferStaysPending(t *testing.T) {
	r := relay.New(unittest.Logger(), relay.DefaultConfig(), reliableNetwork(t))
	id, err := submit(t, r, transfer(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Advance(ctx, id, sut.Next())
	require.Error(t, err)

	state, err := r.CurrentState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, relay.StatePending, state)
}
