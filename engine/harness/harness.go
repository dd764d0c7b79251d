// Package harness wires the generator, the worker pool, the sampler, the
// scenario controller and the optional outer surfaces into a single run.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/buybotsolana/LAYER-2-COMPLETE/admin"
	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/loadgen"
	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/probe"
	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/scenario"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/aggregator"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/component"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/metrics"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/queue"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/sampler"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/util"
	"github.com/buybotsolana/LAYER-2-COMPLETE/storage/journal"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/rollup"
)

// System is the system under test a run drives.
type System struct {
	SUT      sut.SUT
	Payloads loadgen.PayloadFactory
	Dice     *sut.Dice
	// Injector applies scenario faults; required when the run has scenarios.
	Injector *scenario.Injector
	Recovery scenario.RecoveryChecker
	// Probes is the target of the security probes; nil disables probing.
	Probes *probe.Target
}

// RollupSystem drives the simulated rollup.
func RollupSystem(log zerolog.Logger, r *rollup.Rollup) System {
	target := probe.RollupTarget(r)
	return System{
		SUT:      r.SUT(),
		Payloads: r.Payload,
		Dice:     r.Dice(),
		Injector: scenario.NewInjector(log, r.Network, r.Latency, r.Nodes, r.Dice()),
		Recovery: r,
		Probes:   &target,
	}
}

// ProgressFunc observes the live counters of a run.
type ProgressFunc func(status aggregator.Status)

// Option configures the optional collaborators of a Harness.
type Option func(*Harness)

func WithMetrics(m module.HarnessMetrics) Option {
	return func(h *Harness) { h.metrics = m }
}

func WithTracer(t module.Tracer) Option {
	return func(h *Harness) { h.tracer = t }
}

// WithRegisterer registers the admin request metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(h *Harness) { h.registerer = r }
}

func WithResources(r sampler.ResourceSource) Option {
	return func(h *Harness) { h.resources = r }
}

// WithPusher pushes metrics for the duration of the run.
func WithPusher(p *metrics.Pusher) Option {
	return func(h *Harness) { h.pusher = p }
}

// WithProgress calls f every interval while load is generated.
func WithProgress(interval time.Duration, f ProgressFunc) Option {
	return func(h *Harness) {
		h.progressInterval = interval
		h.progress = f
	}
}

// Harness runs load against a system.
type Harness struct {
	log              zerolog.Logger
	cfg              Config
	system           System
	metrics          module.HarnessMetrics
	tracer           module.Tracer
	registerer       prometheus.Registerer
	resources        sampler.ResourceSource
	pusher           *metrics.Pusher
	progress         ProgressFunc
	progressInterval time.Duration

	abortReason *atomic.String
}

func New(log zerolog.Logger, cfg Config, system System, opts ...Option) (*Harness, error) {
	err := cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid harness config: %w", err)
	}
	if system.SUT == nil || system.Payloads == nil || system.Dice == nil {
		return nil, fmt.Errorf("system requires a sut, a payload factory and a random source")
	}
	if len(cfg.Scenarios) > 0 && system.Injector == nil {
		return nil, fmt.Errorf("scenarios require a fault injector")
	}

	h := &Harness{
		log:         log.With().Str("component", "harness").Logger(),
		cfg:         cfg,
		system:      system,
		metrics:     metrics.NewNoopCollector(),
		tracer:      trace.NewNoopTracer(),
		abortReason: atomic.NewString(""),
	}
	for _, apply := range opts {
		apply(h)
	}
	if h.resources == nil {
		h.resources = sampler.NewHostResources(log)
	}
	if h.progressInterval <= 0 {
		h.progressInterval = time.Second
	}
	return h, nil
}

// AbortReason returns why the run was aborted, or the empty string.
func (h *Harness) AbortReason() string {
	return h.abortReason.Load()
}

// Run executes the load test and returns its result. Cancelling ctx, or an
// abort through the admin server, ends generation early; the items generated
// so far are still processed and reported. A result is returned together
// with an irrecoverable error whenever the run got far enough to produce one.
func (h *Harness) Run(ctx context.Context) (result *load.RunResult, err error) {
	cfg := h.cfg
	startedAt := time.Now()
	agg := aggregator.New(h.log, startedAt)
	var recorder module.LoadRecorder = agg

	var jrn *journal.Journal
	if cfg.JournalDir != "" {
		jrn, err = journal.Open(h.log, journal.Config{Dir: cfg.JournalDir, ValueLogFileSize: cfg.JournalValueLogSize})
		if err != nil {
			return nil, fmt.Errorf("could not open journal: %w", err)
		}
		defer func() {
			err = multierr.Append(err, jrn.Close())
		}()
		err = jrn.Begin(startedAt, cfg.Scenarios)
		if err != nil {
			return nil, err
		}
		recorder = teeRecorder{agg, jrn}
		defer func() {
			if result != nil {
				err = multierr.Append(err, jrn.Finish(result))
			}
			if failed := jrn.Errors(); failed > 0 {
				h.log.Warn().Uint64("failed_writes", failed).Msg("journal is incomplete")
			}
		}()
	}

	q, err := queue.New[*load.WorkItem](
		queue.WithCapacity(cfg.QueueCapacity),
		queue.WithLengthObserver(h.metrics.QueueLength),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create work queue: %w", err)
	}
	dist, err := h.distribution()
	if err != nil {
		return nil, err
	}
	gen, err := loadgen.NewGenerator(h.log, loadgen.GeneratorConfig{
		TPS:         cfg.TPS,
		MaxItems:    cfg.MaxItems,
		PushTimeout: cfg.PushTimeout,
	}, q, dist, h.system.Payloads, recorder, h.metrics)
	if err != nil {
		return nil, fmt.Errorf("could not create generator: %w", err)
	}
	pool, err := loadgen.NewPool(h.log, loadgen.PoolConfig{
		Workers:         cfg.Workers,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ItemTimeout:     cfg.ItemTimeout,
	}, q, h.system.SUT, recorder, h.metrics, h.tracer)
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}
	smp := sampler.New(h.log, cfg.SampleInterval, agg, q, h.resources, h.metrics)

	total := cfg.Duration
	var ctrl *scenario.Controller
	if len(cfg.Scenarios) > 0 {
		ctrl, err = scenario.NewController(h.log, cfg.Scenarios, agg, h.system.Injector, gen,
			h.system.Recovery, h.system.Dice, h.metrics, h.tracer)
		if err != nil {
			return nil, fmt.Errorf("could not create scenario controller: %w", err)
		}
		if ctrl.End() > total {
			h.log.Info().Dur("duration", ctrl.End()).Msg("extending run to cover every scenario")
			total = ctrl.End()
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	abort := func(reason string) {
		if h.abortReason.CompareAndSwap("", reason) {
			h.log.Warn().Str("reason", reason).Msg("aborting run")
		}
		cancelRun()
	}

	// every component gets its own lifetime; fatal collects what they throw
	fatal := make(chan error, 4)

	if cfg.AdminAddr != "" {
		srv := admin.NewServer(h.log, cfg.AdminAddr, agg, gen, abort, startedAt, h.registerer)
		stopAdmin, waitAdmin := h.start(context.Background(), srv, fatal)
		defer func() {
			stopAdmin()
			waitAdmin()
		}()
		select {
		case <-srv.Ready():
			h.log.Info().Str("address", srv.Addr()).Msg("admin server listening")
		case err := <-fatal:
			return nil, fmt.Errorf("could not start admin server: %w", err)
		}
	}

	// the pool outlives runCtx so that generated items are still processed
	abandon, waitPool := h.start(context.Background(), pool, fatal)
	defer abandon()
	stopSampler, waitSampler := h.start(context.Background(), smp, fatal)
	defer stopSampler()
	components := []module.ReadyDoneAware{pool, smp}
	stopCtrl, waitCtrl := context.CancelFunc(func() {}), func() {}
	if ctrl != nil {
		stopCtrl, waitCtrl = h.start(runCtx, ctrl, fatal)
		defer stopCtrl()
		components = append(components, ctrl)
	}
	<-util.AllReady(components...)

	auxCtx, stopAux := context.WithCancel(runCtx)
	defer stopAux()
	aux, auxCtx := errgroup.WithContext(auxCtx)
	aux.Go(func() error {
		select {
		case err := <-fatal:
			abort("irrecoverable error")
			return err
		case <-auxCtx.Done():
			return nil
		}
	})
	if cfg.Adaptive {
		adjuster := loadgen.NewAdjuster(h.log, gen, agg, cfg.AdjustInterval, cfg.FailureThreshold, cfg.MaxTPS)
		aux.Go(func() error {
			return adjuster.Run(auxCtx)
		})
	}
	if h.pusher != nil {
		aux.Go(func() error {
			return h.pusher.Run(auxCtx)
		})
	}
	if h.progress != nil {
		aux.Go(func() error {
			return h.report(auxCtx, agg)
		})
	}

	h.log.Info().
		Float64("tps", cfg.TPS).
		Dur("duration", total).
		Int("workers", cfg.Workers).
		Int("scenarios", len(cfg.Scenarios)).
		Msg("run started")

	genErr := gen.Run(runCtx, total)

	// the last scenario may still be verifying recovery; faults are reverted
	// before the queue drains
	if ctrl != nil {
		select {
		case <-ctrl.Done():
		case <-runCtx.Done():
		}
	}
	stopCtrl()
	waitCtrl()
	pool.Stop(abandon)
	waitPool()
	stopSampler()
	waitSampler()
	stopAux()
	auxErr := aux.Wait()

	err = multierr.Combine(genErr, auxErr)
	for drained := false; !drained; {
		select {
		case thrown := <-fatal:
			err = multierr.Append(err, thrown)
		default:
			drained = true
		}
	}
	if ctrl != nil && ctrl.ActiveFaults() > 0 {
		err = multierr.Append(err, fmt.Errorf("%d faults are still applied after the run", ctrl.ActiveFaults()))
	}

	endedAt := time.Now()
	if h.system.Probes != nil && cfg.Probes != nil {
		prober := probe.New(h.log, *h.system.Probes, cfg.ProbeWorkers, h.tracer)
		results, probeErr := prober.Run(ctx, cfg.Probes...)
		err = multierr.Append(err, probeErr)
		for _, v := range probe.Vulnerabilities(results) {
			agg.AddVulnerability(v)
		}
	}

	result = agg.Finalize(endedAt, smp.Samples())
	if reason := h.AbortReason(); reason != "" {
		h.log.Warn().Str("reason", reason).Msg("run was aborted")
	}
	h.log.Info().
		Uint64("total", result.Total).
		Uint64("succeeded", result.Succeeded).
		Uint64("failed", result.Failed).
		Uint64("dropped", result.Dropped).
		Float64("failed_ratio", result.FailedRatio()).
		Msg("run finished")
	return result, err
}

// start starts c under its own cancellable lifetime derived from parent and
// forwards the error it throws to fatal. wait blocks until c is done and its
// error, if any, was forwarded.
func (h *Harness) start(parent context.Context, c component.Component, fatal chan<- error) (stop context.CancelFunc, wait func()) {
	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)
	c.Start(signalerCtx)

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		err := util.WaitError(errChan, c.Done())
		if err == nil {
			return
		}
		select {
		case fatal <- err:
		default:
			h.log.Error().Err(err).Msg("dropped irrecoverable error")
		}
	}()
	return cancel, func() { <-forwarded }
}

func (h *Harness) distribution() (*loadgen.Distribution, error) {
	if len(h.cfg.Kinds) == 0 {
		return loadgen.UniformDistribution(load.AllKinds(), h.system.Dice)
	}
	return loadgen.NewDistribution(h.cfg.Kinds, h.system.Dice)
}

func (h *Harness) report(ctx context.Context, agg *aggregator.Aggregator) error {
	ticker := time.NewTicker(h.progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.progress(agg.Status())
			return nil
		case <-ticker.C:
			h.progress(agg.Status())
		}
	}
}

// teeRecorder forwards every record to all of its recorders.
type teeRecorder []module.LoadRecorder

func (t teeRecorder) Record(outcome load.Outcome) {
	for _, r := range t {
		r.Record(outcome)
	}
}

func (t teeRecorder) RecordDropped(item *load.WorkItem) {
	for _, r := range t {
		r.RecordDropped(item)
	}
}

func (t teeRecorder) RecordGenerated(item *load.WorkItem) {
	for _, r := range t {
		r.RecordGenerated(item)
	}
}
