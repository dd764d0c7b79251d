package metrics

import (
	"time"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
)

var _ module.HarnessMetrics = (*NoopCollector)(nil)

type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) ItemGenerated(load.Kind)                                               {}
func (nc *NoopCollector) ItemDropped(load.Kind)                                                 {}
func (nc *NoopCollector) TargetTPS(float64)                                                     {}
func (nc *NoopCollector) OutcomeRecorded(load.Kind, load.Status, load.ErrorKind, time.Duration) {}
func (nc *NoopCollector) WorkerPanicked()                                                       {}
func (nc *NoopCollector) ActiveWorkers(int)                                                     {}
func (nc *NoopCollector) QueueLength(int)                                                       {}
func (nc *NoopCollector) SampleRecorded(load.MetricSample)                                      {}
func (nc *NoopCollector) ScenarioStarted(string, load.FaultType)                                {}
func (nc *NoopCollector) ScenarioReverted(string, load.FaultType, time.Duration)                {}
