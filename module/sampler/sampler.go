// Package sampler records the throughput and resource usage of a run at a
// fixed interval.
package sampler

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/rs/zerolog"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/component"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
)

const DefaultInterval = time.Second

// CompletionCounter reports the number of items completed so far.
type CompletionCounter interface {
	Completed() uint64
}

// QueueLengther reports the current length of the work queue.
type QueueLengther interface {
	Len() int
}

// Sampler is a component that appends a MetricSample every interval until it
// is stopped. Its ticker is independent of the generator and the workers.
type Sampler struct {
	*component.ComponentManager
	log       zerolog.Logger
	interval  time.Duration
	counter   CompletionCounter
	queue     QueueLengther
	resources ResourceSource
	metrics   module.SamplerMetrics

	mu            sync.Mutex
	samples       []load.MetricSample
	avg           ewma.MovingAverage
	lastCompleted uint64
	lastAt        time.Time
}

func New(
	log zerolog.Logger,
	interval time.Duration,
	counter CompletionCounter,
	queue QueueLengther,
	resources ResourceSource,
	metrics module.SamplerMetrics,
) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sampler{
		log:       log.With().Str("component", "sampler").Logger(),
		interval:  interval,
		counter:   counter,
		queue:     queue,
		resources: resources,
		metrics:   metrics,
		avg:       ewma.NewMovingAverage(),
	}
	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.loop).
		Build()
	return s
}

func (s *Sampler) loop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	s.mu.Lock()
	s.lastAt = time.Now()
	s.lastCompleted = s.counter.Completed()
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ready()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample := s.Record(now)
			s.log.Debug().
				Float64("tps", sample.TPS).
				Uint64("completed", sample.Completed).
				Int("queue_len", sample.QueueLen).
				Msg("sample recorded")
		}
	}
}

// Record takes a sample at now. TPS is the number of items completed since
// the previous sample divided by the elapsed time.
func (s *Sampler) Record(now time.Time) load.MetricSample {
	completed := s.counter.Completed()
	resources := s.resources.SampleResources()

	s.mu.Lock()
	var tps float64
	elapsed := now.Sub(s.lastAt)
	if !s.lastAt.IsZero() && elapsed > 0 && completed >= s.lastCompleted {
		tps = float64(completed-s.lastCompleted) / elapsed.Seconds()
	}
	s.avg.Add(tps)
	sample := load.MetricSample{
		Timestamp: now,
		TPS:       tps,
		AvgTPS:    s.avg.Value(),
		Completed: completed,
		QueueLen:  s.queue.Len(),
		Resources: resources,
	}
	s.samples = append(s.samples, sample)
	s.lastAt = now
	s.lastCompleted = completed
	s.mu.Unlock()

	s.metrics.SampleRecorded(sample)
	return sample
}

// Samples returns a copy of the samples recorded so far, in order.
func (s *Sampler) Samples() []load.MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := make([]load.MetricSample, len(s.samples))
	copy(samples, s.samples)
	return samples
}
