package module

import (
	"time"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// GeneratorMetrics tracks the output of the rate-controlled generator.
type GeneratorMetrics interface {
	// ItemGenerated is called for every work item accepted by the queue.
	ItemGenerated(kind load.Kind)

	// ItemDropped is called when backpressure forced the generator to give up on an item.
	ItemDropped(kind load.Kind)

	// TargetTPS reports the rate the generator is currently pacing at.
	TargetTPS(tps float64)
}

// WorkerMetrics tracks the worker pool.
type WorkerMetrics interface {
	// OutcomeRecorded is called once for every terminal outcome.
	OutcomeRecorded(kind load.Kind, status load.Status, errKind load.ErrorKind, latency time.Duration)

	// WorkerPanicked counts recovered panics.
	WorkerPanicked()

	// ActiveWorkers reports the number of workers currently executing an item.
	ActiveWorkers(n int)
}

// QueueMetrics tracks the bounded work queue.
type QueueMetrics interface {
	QueueLength(n int)
}

// SamplerMetrics exports collector samples.
type SamplerMetrics interface {
	SampleRecorded(sample load.MetricSample)
}

// ScenarioMetrics tracks fault injection.
type ScenarioMetrics interface {
	ScenarioStarted(name string, fault load.FaultType)
	ScenarioReverted(name string, fault load.FaultType, duration time.Duration)
}

// HarnessMetrics bundles every metric interface of the harness.
type HarnessMetrics interface {
	GeneratorMetrics
	WorkerMetrics
	QueueMetrics
	SamplerMetrics
	ScenarioMetrics
}
