// Package aggregator folds the outcomes of a run into a RunResult.
package aggregator

import (
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
)

var _ module.LoadRecorder = (*Aggregator)(nil)

// Aggregator accumulates outcomes concurrently. Counters are atomic; the
// latency buffer and the error histogram share a mutex.
type Aggregator struct {
	log       zerolog.Logger
	startedAt time.Time

	generated *atomic.Uint64
	counters  *counters

	mu        sync.Mutex
	latencies []float64
	errors    map[load.ErrorKind]uint64
	vulns     []load.Vulnerability

	scenariosMu sync.RWMutex
	scenarios   []*Scenario

	finalizeOnce sync.Once
	result       *load.RunResult
}

type counters struct {
	total     *atomic.Uint64
	succeeded *atomic.Uint64
	failed    *atomic.Uint64
	timedOut  *atomic.Uint64
	dropped   *atomic.Uint64
}

func newCounters() *counters {
	return &counters{
		total:     atomic.NewUint64(0),
		succeeded: atomic.NewUint64(0),
		failed:    atomic.NewUint64(0),
		timedOut:  atomic.NewUint64(0),
		dropped:   atomic.NewUint64(0),
	}
}

// add counts a terminal outcome. Timed out items count as failed too.
func (c *counters) add(status load.Status) {
	c.total.Inc()
	switch status {
	case load.StatusConfirmed:
		c.succeeded.Inc()
	case load.StatusTimedOut:
		c.timedOut.Inc()
		c.failed.Inc()
	default:
		c.failed.Inc()
	}
}

// New creates an aggregator for a run that started at startedAt. Scenario
// windows are relative to startedAt.
func New(log zerolog.Logger, startedAt time.Time) *Aggregator {
	return &Aggregator{
		log:       log.With().Str("component", "aggregator").Logger(),
		startedAt: startedAt,
		generated: atomic.NewUint64(0),
		counters:  newCounters(),
		latencies: make([]float64, 0, 4096),
		errors:    make(map[load.ErrorKind]uint64),
	}
}

// StartedAt returns the reference time of scenario windows.
func (a *Aggregator) StartedAt() time.Time {
	return a.startedAt
}

// AddScenario registers a sub-aggregator for the items submitted within the
// window of s.
func (a *Aggregator) AddScenario(s load.Scenario) *Scenario {
	sc := &Scenario{
		scenario: s,
		counters: newCounters(),
		latency:  atomic.NewInt64(0),
		measured: atomic.NewUint64(0),
	}
	a.scenariosMu.Lock()
	a.scenarios = append(a.scenarios, sc)
	a.scenariosMu.Unlock()
	return sc
}

// forEachScenario calls f for the scenarios whose window contains the
// submission time of an item.
func (a *Aggregator) forEachScenario(submittedAt time.Time, f func(*Scenario)) {
	offset := submittedAt.Sub(a.startedAt)
	a.scenariosMu.RLock()
	defer a.scenariosMu.RUnlock()
	for _, sc := range a.scenarios {
		if offset >= sc.scenario.Window.Start && offset < sc.scenario.Window.End {
			f(sc)
		}
	}
}

func (a *Aggregator) RecordGenerated(*load.WorkItem) {
	a.generated.Inc()
}

func (a *Aggregator) RecordDropped(item *load.WorkItem) {
	a.counters.dropped.Inc()
	a.forEachScenario(item.SubmittedAt, func(sc *Scenario) {
		sc.counters.dropped.Inc()
	})
}

// Record folds a terminal outcome into the totals, the error histogram, the
// latency buffer and the matching scenarios.
func (a *Aggregator) Record(outcome load.Outcome) {
	a.counters.add(outcome.Status)

	latency := outcome.Latency()
	measured := outcome.Status != load.StatusTimedOut
	a.mu.Lock()
	if measured {
		a.latencies = append(a.latencies, float64(latency)/float64(time.Millisecond))
	}
	if outcome.Status != load.StatusConfirmed {
		a.errors[outcome.ErrorKind]++
	}
	a.mu.Unlock()

	a.forEachScenario(outcome.SubmittedAt, func(sc *Scenario) {
		sc.counters.add(outcome.Status)
		if measured {
			sc.latency.Add(int64(latency))
			sc.measured.Inc()
		}
	})
}

// AddVulnerability records the failure of a security probe.
func (a *Aggregator) AddVulnerability(v load.Vulnerability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vulns = append(a.vulns, v)
}

// Completed returns the number of terminal outcomes recorded so far.
func (a *Aggregator) Completed() uint64 {
	return a.counters.total.Load()
}

// Counts returns the number of processed and failed items.
func (a *Aggregator) Counts() (total uint64, failed uint64) {
	return a.counters.total.Load(), a.counters.failed.Load()
}

// Status is a live view of the counters.
type Status struct {
	Generated   uint64                    `json:"generated"`
	Total       uint64                    `json:"total"`
	Succeeded   uint64                    `json:"succeeded"`
	Failed      uint64                    `json:"failed"`
	TimedOut    uint64                    `json:"timed_out"`
	Dropped     uint64                    `json:"dropped"`
	FailedRatio float64                   `json:"failed_ratio"`
	Errors      map[load.ErrorKind]uint64 `json:"errors"`
}

// Status returns the current counters. Counters are read one by one, so the
// view may be slightly inconsistent while workers are recording.
func (a *Aggregator) Status() Status {
	s := Status{
		Generated: a.generated.Load(),
		Total:     a.counters.total.Load(),
		Succeeded: a.counters.succeeded.Load(),
		Failed:    a.counters.failed.Load(),
		TimedOut:  a.counters.timedOut.Load(),
		Dropped:   a.counters.dropped.Load(),
	}
	if s.Total > 0 {
		s.FailedRatio = float64(s.Failed) / float64(s.Total)
	}
	a.mu.Lock()
	s.Errors = maps.Clone(a.errors)
	a.mu.Unlock()
	return s
}

// Finalize builds the RunResult. Only the first call computes the result;
// later calls return the same value. Callers must stop recording before.
func (a *Aggregator) Finalize(endedAt time.Time, samples []load.MetricSample) *load.RunResult {
	a.finalizeOnce.Do(func() {
		a.result = a.build(endedAt, samples)
	})
	return a.result
}

func (a *Aggregator) build(endedAt time.Time, samples []load.MetricSample) *load.RunResult {
	duration := endedAt.Sub(a.startedAt)
	r := &load.RunResult{
		StartedAt:  a.startedAt,
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
		Generated:  a.generated.Load(),
		Total:      a.counters.total.Load(),
		Succeeded:  a.counters.succeeded.Load(),
		Failed:     a.counters.failed.Load(),
		TimedOut:   a.counters.timedOut.Load(),
		Dropped:    a.counters.dropped.Load(),
		Samples:    samples,
	}

	a.mu.Lock()
	latencies := slices.Clone(a.latencies)
	r.Errors = maps.Clone(a.errors)
	r.Vulnerabilities = slices.Clone(a.vulns)
	a.mu.Unlock()
	if r.Vulnerabilities == nil {
		r.Vulnerabilities = []load.Vulnerability{}
	}

	if len(latencies) > 0 {
		slices.Sort(latencies)
		r.LatencyP50Ms = percentile(latencies, 50)
		r.LatencyP95Ms = percentile(latencies, 95)
		r.LatencyP99Ms = percentile(latencies, 99)
		r.AvgLatencyMs, _ = stats.Mean(latencies)
	}

	a.scenariosMu.RLock()
	r.Scenarios = make([]load.ScenarioResult, 0, len(a.scenarios))
	for _, sc := range a.scenarios {
		r.Scenarios = append(r.Scenarios, sc.Result())
	}
	a.scenariosMu.RUnlock()

	kinds := maps.Keys(r.Errors)
	slices.Sort(kinds)
	for _, kind := range kinds {
		a.log.Debug().Str("error_kind", string(kind)).Uint64("count", r.Errors[kind]).Msg("error histogram")
	}
	a.log.Info().
		Uint64("total", r.Total).
		Uint64("succeeded", r.Succeeded).
		Uint64("failed", r.Failed).
		Uint64("dropped", r.Dropped).
		Float64("p95_ms", r.LatencyP95Ms).
		Msg("run result finalized")
	return r
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	v, err := stats.PercentileNearestRank(sorted, p)
	if err != nil {
		panic(fmt.Sprintf("percentile %v of %d values: %v", p, len(sorted), err))
	}
	return v
}

// Scenario aggregates the outcomes of the items submitted within the window
// of one scenario.
type Scenario struct {
	scenario load.Scenario
	counters *counters
	latency  *atomic.Int64
	measured *atomic.Uint64

	mu                 sync.Mutex
	recoveryChecked    bool
	recoverySuccessful bool
}

// SetRecovery records the result of the post-revert recovery check.
func (s *Scenario) SetRecovery(successful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryChecked = true
	s.recoverySuccessful = successful
}

func (s *Scenario) Name() string {
	return s.scenario.Name
}

func (s *Scenario) Result() load.ScenarioResult {
	r := load.ScenarioResult{
		Name:      s.scenario.Name,
		Window:    load.NewWindowJSON(s.scenario.Window),
		Total:     s.counters.total.Load(),
		Succeeded: s.counters.succeeded.Load(),
		Failed:    s.counters.failed.Load(),
		TimedOut:  s.counters.timedOut.Load(),
		Dropped:   s.counters.dropped.Load(),
	}
	if s.scenario.Fault.Type != load.FaultNone {
		r.Fault = s.scenario.Fault.String()
	}
	if n := s.measured.Load(); n > 0 {
		r.AvgLatencyMs = float64(s.latency.Load()) / float64(n) / float64(time.Millisecond)
	}
	s.mu.Lock()
	r.RecoveryChecked = s.recoveryChecked
	r.RecoverySuccessful = s.recoverySuccessful
	s.mu.Unlock()
	return r
}
