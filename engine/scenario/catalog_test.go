package scenario_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/scenario"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

func TestCatalog_All(t *testing.T) {
	chains := []string{"ethereum", "polygon"}
	scenarios, err := scenario.Catalog([]string{"all"}, 13*time.Second, 200, chains, sut.NewDice(1))
	require.NoError(t, err)
	require.Len(t, scenarios, len(scenario.CatalogNames()))

	var end time.Duration
	for i, sc := range scenarios {
		assert.Equal(t, scenario.CatalogNames()[i], sc.Name)
		assert.Equal(t, end, sc.Window.Start, "windows must be contiguous")
		assert.NoError(t, sc.Validate())
		end = sc.Window.End
	}
	assert.Equal(t, 13*time.Second, end)

	byName := make(map[string]load.Scenario)
	for _, sc := range scenarios {
		byName[sc.Name] = sc
	}
	assert.Equal(t, 400.0, byName[scenario.HighTPSBurst].TPS)
	assert.Equal(t, time.Second, byName[scenario.HighTPSBurst].Window.Duration())
	assert.Equal(t, 2*time.Second, byName[scenario.NodeFailure].Window.Duration())
	assert.Equal(t, load.TargetSUT, byName[scenario.NetworkLatency].Fault.Target)
	assert.Contains(t, chains, byName[scenario.ChainDisconnection].Fault.Target)
	assert.Contains(t, chains, byName[scenario.NetworkCongestion].Fault.Target)
	assert.Len(t, byName[scenario.MixedTypes].Mix, len(load.AllKinds()))

	failure := byName[scenario.NodeFailure].Fault
	assert.Equal(t, byName[scenario.NodeFailure].Window.Duration()/3, failure.Delay)
	assert.Equal(t, failure.Delay, failure.Hold)
}

func TestCatalog_Selection(t *testing.T) {
	dice := sut.NewDice(1)

	t.Run("empty selects nothing", func(t *testing.T) {
		scenarios, err := scenario.Catalog(nil, time.Minute, 100, nil, dice)
		require.NoError(t, err)
		assert.Empty(t, scenarios)
	})

	t.Run("subset keeps catalog order", func(t *testing.T) {
		scenarios, err := scenario.Catalog([]string{"network-latency", "High_TPS_Burst"}, 3*time.Second, 100, nil, dice)
		require.NoError(t, err)
		require.Len(t, scenarios, 2)
		assert.Equal(t, scenario.HighTPSBurst, scenarios[0].Name)
		assert.Equal(t, scenario.NetworkLatency, scenarios[1].Name)
		assert.Equal(t, load.Window{Start: time.Second, End: 3 * time.Second}, scenarios[1].Window)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := scenario.Catalog([]string{"meteor_strike"}, time.Minute, 100, nil, dice)
		assert.ErrorContains(t, err, "meteor_strike")
	})

	t.Run("chain faults need chains", func(t *testing.T) {
		_, err := scenario.Catalog([]string{scenario.ChainDisconnection}, time.Minute, 100, nil, dice)
		assert.Error(t, err)
	})

	t.Run("duration required", func(t *testing.T) {
		_, err := scenario.Catalog([]string{"all"}, 0, 100, []string{"ethereum"}, dice)
		assert.Error(t, err)
	})
}
