package bridge_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/bridge"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

type BridgeSuite struct {
	suite.Suite
	network *chain.Network
	bridge  *bridge.SUT
	ctx     context.Context
}

func TestBridge(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func (s *BridgeSuite) SetupTest() {
	cfg := chain.DefaultConfig()
	cfg.SuccessRate = 1
	cfg.ConnectSuccessRate = 1
	cfg.TimeScale = 0.0001

	var err error
	s.network, err = chain.NewNetwork(unittest.Logger(), cfg, sut.NewDice(11))
	s.Require().NoError(err)
	s.bridge = bridge.New(unittest.Logger(), bridge.DefaultConfig(), s.network)
	s.ctx = context.Background()
}

func (s *BridgeSuite) submit(kind load.Kind, p bridge.Payload) sut.EntityID {
	b, err := load.EncodePayload(p)
	s.Require().NoError(err)
	id, err := s.bridge.Submit(s.ctx, kind, b)
	s.Require().NoError(err)
	return id
}

func deposit(nonce uint64) bridge.Payload {
	return bridge.Payload{
		Sender:    "alice",
		Recipient: "alice-l2",
		Token:     "ETH",
		Amount:    100,
		Nonce:     nonce,
		Chain:     "ethereum",
	}
}

// Two concurrent deposits with the same (sender, nonce=42): exactly one
// confirms, the other fails with a nonce collision.
func (s *BridgeSuite) TestConcurrentDoubleDeposit() {
	first := s.submit(load.KindBridgeDeposit, deposit(42))
	second := s.submit(load.KindBridgeDeposit, deposit(42))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []sut.EntityID{first, second} {
		wg.Add(1)
		go func(i int, id sut.EntityID) {
			defer wg.Done()
			_, errs[i] = s.bridge.Advance(s.ctx, id, sut.Next())
		}(i, id)
	}
	wg.Wait()

	confirmed, collided := 0, 0
	for i, id := range []sut.EntityID{first, second} {
		state, err := s.bridge.CurrentState(s.ctx, id)
		s.Require().NoError(err)
		switch state {
		case bridge.StateConfirmed:
			confirmed++
			s.NoError(errs[i])
		case bridge.StateFailed:
			collided++
			s.True(sut.IsNonceCollisionError(errs[i]), "unexpected error %v", errs[i])
		default:
			s.Failf("unexpected state", "%s", state)
		}
	}
	s.Equal(1, confirmed)
	s.Equal(1, collided)
	s.Equal(uint64(1_000_100), s.bridge.Balance("alice-l2", "ETH"))
}

// A deposit and a withdrawal sharing (sender, nonce) cannot both confirm.
func (s *BridgeSuite) TestDepositAndWithdrawalShareNonces() {
	dep := s.submit(load.KindBridgeDeposit, deposit(7))
	wd := deposit(7)
	wd.Recipient = "alice-eth"
	withdrawal := s.submit(load.KindBridgeWithdrawal, wd)

	_, err := s.bridge.Advance(s.ctx, dep, sut.Next())
	s.Require().NoError(err)
	state, err := s.bridge.Advance(s.ctx, withdrawal, sut.Next())
	s.True(sut.IsNonceCollisionError(err))
	s.Equal(bridge.StateFailed, state)
	// the failed withdrawal must not have debited the sender
	s.Equal(uint64(1_000_000), s.bridge.Balance("alice", "ETH"))
}

// Confirming twice is rejected and credits the recipient once.
func (s *BridgeSuite) TestIdempotentConfirmation() {
	id := s.submit(load.KindBridgeDeposit, deposit(1))

	state, err := s.bridge.Advance(s.ctx, id, sut.Input{Action: bridge.ActionConfirm})
	s.Require().NoError(err)
	s.Equal(bridge.StateConfirmed, state)

	state, err = s.bridge.Advance(s.ctx, id, sut.Input{Action: bridge.ActionConfirm})
	s.True(sut.IsIllegalTransitionError(err))
	s.Equal(bridge.StateConfirmed, state)
	s.Equal(uint64(1_000_100), s.bridge.Balance("alice-l2", "ETH"))

	e, err := s.bridge.Store().Get(s.ctx, id)
	s.Require().NoError(err)
	s.NoError(bridge.Transitions.CheckHistory(e))
	s.NotEmpty(e.Data.(*bridge.Transfer).Receipt)
}

func (s *BridgeSuite) TestWithdrawalInsufficientFunds() {
	wd := deposit(3)
	wd.Amount = 2_000_000
	id := s.submit(load.KindBridgeWithdrawal, wd)

	state, err := s.bridge.Advance(s.ctx, id, sut.Next())
	s.True(sut.IsInsufficientFundsError(err))
	s.Equal(bridge.StateFailed, state)

	// the nonce is free again for a valid operation
	retry := s.submit(load.KindBridgeWithdrawal, deposit(3))
	_, err = s.bridge.Advance(s.ctx, retry, sut.Next())
	s.Require().NoError(err)
	s.Equal(uint64(999_900), s.bridge.Balance("alice", "ETH"))
}

// A disconnected chain fails the operation and leaves balances untouched.
func (s *BridgeSuite) TestChainDisconnected() {
	s.Require().NoError(s.network.Disconnect("ethereum"))
	wd := deposit(9)
	wd.Recipient = "alice-eth"
	id := s.submit(load.KindBridgeWithdrawal, wd)

	state, err := s.bridge.Advance(s.ctx, id, sut.Next())
	s.True(sut.IsChainNotConnectedError(err))
	s.Equal(bridge.StateFailed, state)
	s.Equal(uint64(1_000_000), s.bridge.Balance("alice", "ETH"))
}

func (s *BridgeSuite) TestInvalidPayload() {
	for name, p := range map[string]bridge.Payload{
		"no sender":     {Amount: 1, Chain: "ethereum"},
		"zero amount":   {Sender: "a", Chain: "ethereum"},
		"unknown chain": {Sender: "a", Amount: 1, Chain: "dogechain"},
	} {
		b, err := load.EncodePayload(p)
		s.Require().NoError(err)
		_, err = s.bridge.Submit(s.ctx, load.KindBridgeDeposit, b)
		s.True(sut.IsInvalidPayloadError(err), name)
	}
}

func TestBridge_SenderRateLimit(t *testing.T) {
	cfg := chain.DefaultConfig()
	network, err := chain.NewNetwork(unittest.Logger(), cfg, sut.NewDice(1))
	require.NoError(t, err)

	bcfg := bridge.DefaultConfig()
	bcfg.SenderRate = rate.Limit(0.001)
	bcfg.SenderBurst = 2
	b := bridge.New(unittest.Logger(), bcfg, network)

	payload, err := load.EncodePayload(deposit(1))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = b.Submit(context.Background(), load.KindBridgeDeposit, payload)
		require.NoError(t, err)
	}
	_, err = b.Submit(context.Background(), load.KindBridgeDeposit, payload)
	assert.True(t, sut.IsRateLimitedError(err))
}
