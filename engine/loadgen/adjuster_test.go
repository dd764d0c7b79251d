package loadgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/loadgen"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

type fakeCounts struct{ total, failed uint64 }

func (f *fakeCounts) Counts() (uint64, uint64) { return f.total, f.failed }

type fakeRate struct{ tps float64 }

func (f *fakeRate) TPS() float64 { return f.tps }
func (f *fakeRate) SetTPS(tps float64) error {
	f.tps = tps
	return nil
}

func TestAdjuster_AIMD(t *testing.T) {
	counts := &fakeCounts{}
	rate := &fakeRate{tps: 1000}
	adj := loadgen.NewAdjuster(unittest.Logger(), rate, counts, 0, 0.1, 1150)

	// no traffic: unchanged
	adj.Adjust()
	assert.Equal(t, 1000.0, rate.tps)

	// 5% failures: additive increase
	counts.total, counts.failed = 100, 5
	adj.Adjust()
	assert.Equal(t, 1100.0, rate.tps)

	// capped at the maximum
	counts.total, counts.failed = 200, 5
	adj.Adjust()
	assert.Equal(t, 1150.0, rate.tps)

	// 50% failures in the last interval: multiplicative decrease
	counts.total, counts.failed = 300, 55
	adj.Adjust()
	assert.InDelta(t, 1035.0, rate.tps, 1e-9)
}
