package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/component"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/queue"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

const (
	DefaultShutdownTimeout = 5 * time.Second

	// maxSteps bounds the Advance calls spent on one entity.
	maxSteps = 64
)

// ErrNotSettled is reported when an entity does not reach a terminal state
// within the step limit.
var ErrNotSettled = errors.New("entity did not reach a terminal state")

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers int
	// ShutdownTimeout bounds the time the workers get to drain the queue
	// after it was closed. Items still queued or in flight afterwards are
	// abandoned and reported as timed out.
	ShutdownTimeout time.Duration
	// ItemTimeout bounds the execution of a single item; 0 means no limit.
	ItemTimeout time.Duration
}

// Pool is a fixed set of workers that pop items from the queue, drive their
// entity to a terminal state and record exactly one outcome per item.
//
// The context passed to Start is the abandon signal: once it is cancelled,
// in-flight SUT calls are interrupted and their items recorded as timed out.
type Pool struct {
	*component.ComponentManager
	log      zerolog.Logger
	cfg      PoolConfig
	queue    *queue.Queue[*load.WorkItem]
	target   sut.SUT
	recorder module.OutcomeRecorder
	metrics  module.WorkerMetrics
	tracer   module.Tracer

	active *atomic.Int64

	latencyMu  sync.Mutex
	avgLatency ewma.MovingAverage
}

func NewPool(
	log zerolog.Logger,
	cfg PoolConfig,
	q *queue.Queue[*load.WorkItem],
	target sut.SUT,
	recorder module.OutcomeRecorder,
	metrics module.WorkerMetrics,
	tracer module.Tracer,
) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	p := &Pool{
		log:        log.With().Str("component", "worker_pool").Logger(),
		cfg:        cfg,
		queue:      q,
		target:     target,
		recorder:   recorder,
		metrics:    metrics,
		tracer:     tracer,
		active:     atomic.NewInt64(0),
		avgLatency: ewma.NewMovingAverage(),
	}

	builder := component.NewComponentManagerBuilder()
	for i := 0; i < cfg.Workers; i++ {
		builder.AddWorker(p.workerLoop)
	}
	p.ComponentManager = builder.Build()
	return p, nil
}

// Workers returns the size of the pool.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// ShutdownTimeout returns the grace period for draining the queue.
func (p *Pool) ShutdownTimeout() time.Duration {
	return p.cfg.ShutdownTimeout
}

// Active returns the number of workers executing an item.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// AvgLatency returns the moving average of the item latency.
func (p *Pool) AvgLatency() time.Duration {
	p.latencyMu.Lock()
	defer p.latencyMu.Unlock()
	return time.Duration(p.avgLatency.Value())
}

func (p *Pool) workerLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for {
		item, err := p.queue.Pop(ctx)
		if err != nil {
			// queue closed and drained, or the pool was stopped
			return
		}
		if ctx.Err() != nil {
			p.Abandon(item)
			return
		}
		p.process(ctx, item)
	}
}

// process executes item and records its outcome. Panics raised by the SUT
// are recovered into a failed outcome; the worker keeps running.
func (p *Pool) process(ctx context.Context, item *load.WorkItem) {
	p.metrics.ActiveWorkers(int(p.active.Inc()))
	defer func() {
		p.metrics.ActiveWorkers(int(p.active.Dec()))
	}()

	outcome := p.execute(ctx, item)
	p.Record(outcome)
}

// Record hands an outcome to the recorder and updates the worker metrics.
func (p *Pool) Record(outcome load.Outcome) {
	p.recorder.Record(outcome)
	p.metrics.OutcomeRecorded(outcome.Kind, outcome.Status, outcome.ErrorKind, outcome.Latency())
	if outcome.Status != load.StatusTimedOut {
		p.latencyMu.Lock()
		p.avgLatency.Add(float64(outcome.Latency()))
		p.latencyMu.Unlock()
	}
}

// Abandon records a timed out outcome for an item that was never executed.
func (p *Pool) Abandon(item *load.WorkItem) {
	p.Record(load.NewOutcome(item, load.StatusTimedOut, load.ErrorKindAbandoned, nil, time.Now()))
}

func (p *Pool) execute(ctx context.Context, item *load.WorkItem) (outcome load.Outcome) {
	span, ctx := p.tracer.StartSpanFromContext(ctx, trace.WorkerExecuteItem,
		otelTrace.WithAttributes(
			attribute.String("item_id", item.ID),
			attribute.String("kind", item.Kind.String()),
		))
	defer span.End()

	var entityID sut.EntityID
	defer func() {
		if r := recover(); r != nil {
			p.metrics.WorkerPanicked()
			err := fmt.Errorf("panic while executing item: %v", r)
			p.log.Error().Err(err).Str("item_id", item.ID).Msg("recovered worker panic")
			outcome = load.NewOutcome(item, load.StatusFailed, load.ErrorKindInternal, err, time.Now())
		}
		outcome.EntityID = string(entityID)
		span.SetAttributes(attribute.String("status", outcome.Status.String()))
	}()

	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	entityID = sut.EntityID(item.Target)
	if entityID == "" {
		var err error
		p.tracer.WithSpanFromContext(ctx, trace.WorkerSubmit, func() {
			entityID, err = p.target.Submit(ctx, item.Kind, item.Payload)
		})
		if err != nil {
			return p.failed(ctx, item, err)
		}
	}

	for step := 0; step < maxSteps; step++ {
		var (
			state sut.State
			err   error
		)
		p.tracer.WithSpanFromContext(ctx, trace.WorkerAdvance, func() {
			state, err = p.target.Advance(ctx, entityID, sut.Next())
		})
		if err != nil {
			return p.failed(ctx, item, err)
		}
		if state.Terminal {
			return load.NewOutcome(item, load.StatusConfirmed, load.ErrorKindNone, nil, time.Now())
		}
	}
	return load.NewOutcome(item, load.StatusFailed, load.ErrorKindInternal, ErrNotSettled, time.Now())
}

// failed classifies err. Items interrupted by the abandon signal or by their
// own deadline are timed out, everything else failed.
func (p *Pool) failed(ctx context.Context, item *load.WorkItem, err error) load.Outcome {
	kind := sut.KindOf(err)
	if ctx.Err() != nil {
		if kind != load.ErrorKindTimeout {
			kind = load.ErrorKindAbandoned
		}
		return load.NewOutcome(item, load.StatusTimedOut, kind, err, time.Now())
	}
	if !sut.IsDomainError(err) {
		p.log.Warn().Err(err).Str("item_id", item.ID).Msg("unexpected sut error")
	}
	return load.NewOutcome(item, load.StatusFailed, kind, err, time.Now())
}

// Stop closes the queue and gives the workers ShutdownTimeout to drain it.
// Workers still busy afterwards are interrupted through abandon, which must
// cancel the context the pool was started with. Items left in the queue are
// recorded as timed out. Stop returns once every worker has returned.
func (p *Pool) Stop(abandon context.CancelFunc) {
	p.queue.Close()

	timer := time.NewTimer(p.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-p.Done():
	case <-timer.C:
		p.log.Warn().
			Dur("timeout", p.cfg.ShutdownTimeout).
			Int("queued", p.queue.Len()).
			Int("active", p.Active()).
			Msg("workers did not drain the queue in time, abandoning remaining items")
		abandon()
		<-p.Done()
	}

	left := p.queue.Drain()
	for _, item := range left {
		p.Abandon(item)
	}
	if len(left) > 0 {
		p.log.Info().Int("abandoned", len(left)).Msg("recorded queued items as timed out")
	}
}
