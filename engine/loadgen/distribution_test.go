package loadgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/loadgen"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

func TestParseWeights(t *testing.T) {
	weights, err := loadgen.ParseWeights([]string{"bridge_deposit=3", " fraud-proof ", ""})
	require.NoError(t, err)
	assert.Equal(t, map[load.Kind]float64{
		load.KindBridgeDeposit: 3,
		load.KindFraudProof:    1,
	}, weights)

	_, err = loadgen.ParseWeights([]string{"transfer"})
	assert.Error(t, err)
	_, err = loadgen.ParseWeights([]string{"bridge_deposit=heavy"})
	assert.Error(t, err)
}

func TestNewDistribution_Invalid(t *testing.T) {
	dice := sut.NewDice(1)
	_, err := loadgen.NewDistribution(map[load.Kind]float64{}, dice)
	assert.Error(t, err)
	_, err = loadgen.NewDistribution(map[load.Kind]float64{load.KindFraudProof: -1}, dice)
	assert.Error(t, err)
	_, err = loadgen.NewDistribution(map[load.Kind]float64{load.KindUnknown: 1}, dice)
	assert.Error(t, err)
}

func TestDistribution_Proportions(t *testing.T) {
	dist, err := loadgen.NewDistribution(map[load.Kind]float64{
		load.KindBridgeDeposit:    3,
		load.KindFraudProof:       1,
		load.KindBridgeWithdrawal: 0,
	}, sut.NewDice(42))
	require.NoError(t, err)
	assert.Equal(t, []load.Kind{load.KindFraudProof, load.KindBridgeDeposit}, dist.Kinds())

	counts := make(map[load.Kind]int)
	const n = 10_000
	for i := 0; i < n; i++ {
		counts[dist.Pick()]++
	}
	assert.Zero(t, counts[load.KindBridgeWithdrawal])
	assert.InDelta(t, 0.75, float64(counts[load.KindBridgeDeposit])/n, 0.03)
}

// Pick only ever returns kinds with a positive weight.
func TestDistribution_PicksWeightedKinds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		weights := make(map[load.Kind]float64)
		for _, kind := range load.AllKinds() {
			if rapid.Bool().Draw(t, "include_"+kind.String()) {
				weights[kind] = rapid.Float64Range(0.01, 100).Draw(t, "weight_"+kind.String())
			}
		}
		if len(weights) == 0 {
			weights[load.KindCrossChainTransfer] = 1
		}
		dist, err := loadgen.NewDistribution(weights, sut.NewDice(rapid.Int64().Draw(t, "seed")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := 0; i < 50; i++ {
			kind := dist.Pick()
			if weights[kind] <= 0 {
				t.Fatalf("picked kind %s without weight", kind)
			}
		}
	})
}
