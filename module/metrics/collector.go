package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
)

var _ module.HarnessMetrics = (*HarnessCollector)(nil)

// HarnessCollector exports the metrics of a load run to prometheus.
type HarnessCollector struct {
	itemsGenerated *prometheus.CounterVec
	itemsDropped   *prometheus.CounterVec
	targetTPS      prometheus.Gauge

	outcomes      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	panics        prometheus.Counter
	activeWorkers prometheus.Gauge

	queueLength prometheus.Gauge

	tps       prometheus.Gauge
	avgTPS    prometheus.Gauge
	resources *prometheus.GaugeVec

	scenarioActive *prometheus.GaugeVec
	revertDuration *prometheus.HistogramVec
}

// NewHarnessCollector creates the collector and registers its metrics with
// registerer.
func NewHarnessCollector(registerer prometheus.Registerer) *HarnessCollector {
	factory := promauto.With(registerer)

	hc := &HarnessCollector{
		itemsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemGenerator,
			Name:      "items_generated_total",
			Help:      "number of work items accepted by the queue",
		}, []string{LabelKind}),

		itemsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemGenerator,
			Name:      "items_dropped_total",
			Help:      "number of work items dropped because the queue stayed full",
		}, []string{LabelKind}),

		targetTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemGenerator,
			Name:      "target_tps",
			Help:      "rate the generator is pacing at",
		}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemWorkers,
			Name:      "outcomes_total",
			Help:      "number of terminal outcomes by kind, status and error kind",
		}, []string{LabelKind, LabelStatus, LabelErrorKind}),

		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemWorkers,
			Name:      "item_latency_seconds",
			Help:      "time from generation to completion of a work item",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{LabelKind}),

		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemWorkers,
			Name:      "panics_total",
			Help:      "number of panics recovered by workers",
		}),

		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemWorkers,
			Name:      "active",
			Help:      "number of workers executing an item",
		}),

		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemQueue,
			Name:      "length",
			Help:      "number of items waiting in the work queue",
		}),

		tps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemSampler,
			Name:      "tps",
			Help:      "completed items per second over the last sample interval",
		}),

		avgTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemSampler,
			Name:      "avg_tps",
			Help:      "moving average of the completed items per second",
		}),

		resources: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemSampler,
			Name:      "resource_percent",
			Help:      "host resource utilization in percent",
		}, []string{LabelResource}),

		scenarioActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemScenario,
			Name:      "active",
			Help:      "1 while the scenario fault is applied",
		}, []string{LabelScenario, LabelFault}),

		revertDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceLoadTest,
			Subsystem: subsystemScenario,
			Name:      "fault_duration_seconds",
			Help:      "time a fault stayed applied",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{LabelFault}),
	}

	return hc
}

func (hc *HarnessCollector) ItemGenerated(kind load.Kind) {
	hc.itemsGenerated.WithLabelValues(kind.String()).Inc()
}

func (hc *HarnessCollector) ItemDropped(kind load.Kind) {
	hc.itemsDropped.WithLabelValues(kind.String()).Inc()
}

func (hc *HarnessCollector) TargetTPS(tps float64) {
	hc.targetTPS.Set(tps)
}

func (hc *HarnessCollector) OutcomeRecorded(kind load.Kind, status load.Status, errKind load.ErrorKind, latency time.Duration) {
	hc.outcomes.WithLabelValues(kind.String(), status.String(), string(errKind)).Inc()
	if status != load.StatusTimedOut {
		hc.latency.WithLabelValues(kind.String()).Observe(latency.Seconds())
	}
}

func (hc *HarnessCollector) WorkerPanicked() {
	hc.panics.Inc()
}

func (hc *HarnessCollector) ActiveWorkers(n int) {
	hc.activeWorkers.Set(float64(n))
}

func (hc *HarnessCollector) QueueLength(n int) {
	hc.queueLength.Set(float64(n))
}

func (hc *HarnessCollector) SampleRecorded(sample load.MetricSample) {
	hc.tps.Set(sample.TPS)
	hc.avgTPS.Set(sample.AvgTPS)
	hc.resources.WithLabelValues(ResourceCPU).Set(sample.Resources.CPUPercent)
	hc.resources.WithLabelValues(ResourceMemory).Set(sample.Resources.MemoryPercent)
}

func (hc *HarnessCollector) ScenarioStarted(name string, fault load.FaultType) {
	hc.scenarioActive.WithLabelValues(name, fault.String()).Set(1)
}

func (hc *HarnessCollector) ScenarioReverted(name string, fault load.FaultType, duration time.Duration) {
	hc.scenarioActive.WithLabelValues(name, fault.String()).Set(0)
	hc.revertDuration.WithLabelValues(fault.String()).Observe(duration.Seconds())
}
