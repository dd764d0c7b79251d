package sampler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/metrics"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/sampler"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

type counter struct {
	n *atomic.Uint64
}

func (c counter) Completed() uint64 { return c.n.Load() }

type queueLen int

func (q queueLen) Len() int { return int(q) }

type fixedResources load.ResourceSnapshot

func (f fixedResources) SampleResources() load.ResourceSnapshot { return load.ResourceSnapshot(f) }

func TestSampler_Record(t *testing.T) {
	c := counter{atomic.NewUint64(0)}
	res := fixedResources{CPUPercent: 12.5, MemoryBytes: 1 << 20}
	s := sampler.New(unittest.Logger(), time.Second, c, queueLen(3), res, metrics.NewNoopCollector())

	start := time.Now()
	s.Record(start)

	c.n.Store(50)
	sample := s.Record(start.Add(500 * time.Millisecond))
	assert.InDelta(t, 100.0, sample.TPS, 1e-9)
	assert.Equal(t, uint64(50), sample.Completed)
	assert.Equal(t, 3, sample.QueueLen)
	assert.Equal(t, 12.5, sample.Resources.CPUPercent)

	c.n.Store(60)
	sample = s.Record(start.Add(time.Second))
	assert.InDelta(t, 20.0, sample.TPS, 1e-9)
	assert.Greater(t, sample.AvgTPS, 0.0)

	samples := s.Samples()
	require.Len(t, samples, 3)
	// the first sample has no previous one to compare with
	assert.Zero(t, samples[0].TPS)

	// Samples returns a copy
	samples[1].TPS = -1
	assert.InDelta(t, 100.0, s.Samples()[1].TPS, 1e-9)
}

func TestSampler_Component(t *testing.T) {
	c := counter{atomic.NewUint64(0)}
	s := sampler.New(unittest.Logger(), 10*time.Millisecond, c, queueLen(0), fixedResources{}, metrics.NewNoopCollector())

	ctx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(ctx)
	s.Start(signalerCtx)
	unittest.RequireCloseBefore(t, s.Ready(), time.Second, "sampler not ready")

	require.Eventually(t, func() bool {
		c.n.Inc()
		return len(s.Samples()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	unittest.RequireCloseBefore(t, s.Done(), time.Second, "sampler did not stop")

	samples := s.Samples()
	for i := 1; i < len(samples); i++ {
		assert.True(t, samples[i].Timestamp.After(samples[i-1].Timestamp))
		assert.GreaterOrEqual(t, samples[i].Completed, samples[i-1].Completed)
	}
}

func TestHostResources(t *testing.T) {
	snapshot := sampler.NewHostResources(unittest.Logger()).SampleResources()
	assert.Greater(t, snapshot.MemoryBytes, uint64(0))
	assert.GreaterOrEqual(t, snapshot.MemoryPercent, 0.0)
}
