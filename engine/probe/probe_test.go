package probe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/probe"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/bridge"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/finalization"
	mocksut "github.com/buybotsolana/LAYER-2-COMPLETE/sut/mock"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/rollup"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func reliableRollup(t *testing.T) *rollup.Rollup {
	cfg := rollup.DefaultConfig()
	cfg.Seed = 7
	cfg.Network.TimeScale = 0.0001
	cfg.Network.SuccessRate = 1
	cfg.Network.ConnectSuccessRate = 1
	r, err := rollup.New(unittest.Logger(), cfg)
	require.NoError(t, err)
	return r
}

// leakyBridge confirms every deposit and credits the recipient each time.
type leakyBridge struct {
	mu       sync.Mutex
	next     int
	balances map[string]uint64
	payloads map[sut.EntityID][]byte
}

func newLeakyBridge() *leakyBridge {
	return &leakyBridge{balances: make(map[string]uint64), payloads: make(map[sut.EntityID][]byte)}
}

func (b *leakyBridge) Submit(_ context.Context, _ load.Kind, payload []byte) (sut.EntityID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := sut.EntityID(fmt.Sprintf("deposit-%d", b.next))
	b.payloads[id] = payload
	return id, nil
}

func (b *leakyBridge) Advance(_ context.Context, id sut.EntityID, _ sut.Input) (sut.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var p bridge.Payload
	err := load.DecodePayload(b.payloads[id], &p)
	if err != nil {
		return sut.State{}, err
	}
	b.balances[p.Token+"/"+p.Recipient] += p.Amount
	return sut.State{Name: "Confirmed", Terminal: true}, nil
}

func (b *leakyBridge) CurrentState(context.Context, sut.EntityID) (sut.State, error) {
	return sut.State{Name: "Confirmed", Terminal: true}, nil
}

func (b *leakyBridge) Balance(account, token string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[token+"/"+account]
}

func newProber(target probe.Target) *probe.Prober {
	return probe.New(unittest.Logger(), target, 4, trace.NewNoopTracer())
}

func TestProber_SecureRollupPasses(t *testing.T) {
	r := reliableRollup(t)
	results, err := newProber(probe.RollupTarget(r)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(probe.Names()))

	for i, result := range results {
		assert.Equal(t, probe.Names()[i], result.Name)
		assert.Equal(t, probe.Pass, result.Verdict, "%s: %s", result.Name, result.Details)
		assert.Positive(t, result.Duration)
	}
	assert.Empty(t, probe.Vulnerabilities(results))
}

func TestProber_DetectsVulnerabilities(t *testing.T) {
	r := reliableRollup(t)

	relay := new(mocksut.SUT)
	relay.On("Submit", mock.Anything, load.KindCrossChainTransfer, mock.Anything).Return(sut.EntityID("msg"), nil)

	finalizer := new(mocksut.SUT)
	finalizer.On("Submit", mock.Anything, load.KindFinalizationBlock, mock.Anything).Return(sut.EntityID("block"), nil)
	finalizer.On("Advance", mock.Anything, sut.EntityID("block"), mock.Anything).Return(finalization.StateFinalized, nil)
	finalizer.On("CurrentState", mock.Anything, sut.EntityID("block")).Return(finalization.StateFinalized, nil)

	target := probe.Target{
		Bridge:       newLeakyBridge(),
		Relay:        relay,
		Finalization: finalizer,
		Chains:       r.Network.Chains(),
	}
	results, err := newProber(target).Run(context.Background())
	require.NoError(t, err)

	for _, result := range results {
		assert.Equal(t, probe.Fail, result.Verdict, "%s: %s", result.Name, result.Details)
	}
	vulns := probe.Vulnerabilities(results)
	require.Len(t, vulns, len(probe.Names()))
	assert.Equal(t, probe.DoubleSpend, vulns[1].Name)
	assert.Equal(t, "FAIL", vulns[1].Result)
	relay.AssertNumberOfCalls(t, "Submit", 2)
}

func TestProber_Inconclusive(t *testing.T) {
	r := reliableRollup(t)
	chain := r.Network.Chains()[0]
	require.NoError(t, r.Network.Disconnect(chain))

	results, err := newProber(probe.RollupTarget(r)).Run(context.Background(), probe.DoubleSpend)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, probe.Inconclusive, results[0].Verdict)
	assert.Empty(t, probe.Vulnerabilities(results))

	t.Run("missing protocols", func(t *testing.T) {
		results, err := newProber(probe.Target{}).Run(context.Background())
		require.NoError(t, err)
		for _, result := range results {
			assert.Equal(t, probe.Inconclusive, result.Verdict, result.Name)
		}
	})
}

func TestProber_UnknownProbe(t *testing.T) {
	_, err := newProber(probe.Target{}).Run(context.Background(), probe.Replay, "sql_injection")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sql_injection")
}
