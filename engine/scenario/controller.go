// Package scenario runs timed fault-injection windows against the SUT while
// load is being generated.
package scenario

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/loadgen"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/aggregator"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/component"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/util"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

// DefaultRevertTimeout bounds the reversion of a single scenario.
const DefaultRevertTimeout = 10 * time.Second

// LoadShaper is the part of the generator a scenario overrides for its window.
type LoadShaper interface {
	TPS() float64
	SetTPS(tps float64) error
	Distribution() *loadgen.Distribution
	SetDistribution(dist *loadgen.Distribution)
}

// RecoveryChecker probes the target of a reverted fault.
type RecoveryChecker interface {
	CheckRecovery(ctx context.Context, fault load.Fault) error
}

// ScenarioRegistry attributes outcomes to scenario windows.
type ScenarioRegistry interface {
	StartedAt() time.Time
	AddScenario(s load.Scenario) *aggregator.Scenario
}

type entry struct {
	scenario load.Scenario
	dist     *loadgen.Distribution
	result   *aggregator.Scenario
}

// Controller is a component that runs scenarios one after the other, each
// within its window relative to the start of the run. The fault and load
// overrides of a scenario are reverted when its window closes, when the run
// is cancelled, or when the controller goroutine unwinds. A failed reversion
// is thrown as an irrecoverable error.
type Controller struct {
	*component.ComponentManager
	log           zerolog.Logger
	injector      *Injector
	shaper        LoadShaper
	recovery      RecoveryChecker
	metrics       module.ScenarioMetrics
	tracer        module.Tracer
	startedAt     time.Time
	revertTimeout time.Duration
	entries       []*entry
	active        *atomic.Int32
	completed     *atomic.Int32
}

// NewController validates the scenarios and registers them with the registry.
// Windows must not overlap.
func NewController(
	log zerolog.Logger,
	scenarios []load.Scenario,
	registry ScenarioRegistry,
	injector *Injector,
	shaper LoadShaper,
	recovery RecoveryChecker,
	dice *sut.Dice,
	metrics module.ScenarioMetrics,
	tracer module.Tracer,
) (*Controller, error) {
	sorted := make([]load.Scenario, len(scenarios))
	copy(sorted, scenarios)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Window.Start < sorted[j].Window.Start
	})

	entries := make([]*entry, 0, len(sorted))
	for i, sc := range sorted {
		err := sc.Validate()
		if err != nil {
			return nil, err
		}
		if i > 0 && sc.Window.Start < sorted[i-1].Window.End {
			return nil, fmt.Errorf("scenario %s overlaps with %s", sc.Name, sorted[i-1].Name)
		}
		err = injector.Check(sc.Fault)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		if sc.VerifyRecovery && recovery == nil {
			return nil, fmt.Errorf("scenario %s: recovery cannot be verified", sc.Name)
		}
		e := &entry{scenario: sc}
		if len(sc.Mix) > 0 {
			e.dist, err = loadgen.NewDistribution(sc.Mix, dice)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
		}
		entries = append(entries, e)
	}
	for _, e := range entries {
		e.result = registry.AddScenario(e.scenario)
	}

	c := &Controller{
		log:           log.With().Str("component", "scenario_controller").Logger(),
		injector:      injector,
		shaper:        shaper,
		recovery:      recovery,
		metrics:       metrics,
		tracer:        tracer,
		startedAt:     registry.StartedAt(),
		revertTimeout: DefaultRevertTimeout,
		entries:       entries,
		active:        atomic.NewInt32(0),
		completed:     atomic.NewInt32(0),
	}
	c.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(c.loop).
		Build()
	return c, nil
}

// End returns the end of the last window relative to the run start.
func (c *Controller) End() time.Duration {
	if len(c.entries) == 0 {
		return 0
	}
	return c.entries[len(c.entries)-1].scenario.Window.End
}

// ActiveFaults returns the number of faults currently applied.
func (c *Controller) ActiveFaults() int {
	return int(c.active.Load())
}

// Completed returns the number of scenarios whose window has been processed.
func (c *Controller) Completed() int {
	return int(c.completed.Load())
}

func (c *Controller) loop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	for _, e := range c.entries {
		if ctx.Err() != nil {
			return
		}
		err := c.execute(ctx, e)
		if err != nil {
			ctx.Throw(err)
		}
		c.completed.Inc()
	}
	c.log.Info().Int("scenarios", len(c.entries)).Msg("all scenarios completed")
}

// execute runs one scenario window. It waits for the window to open, applies
// the load overrides and the fault, holds them, reverts them and finally
// verifies recovery when requested. Only errors applying or reverting the
// fault are returned.
func (c *Controller) execute(ctx context.Context, e *entry) error {
	sc := e.scenario
	log := c.log.With().Str("scenario", sc.Name).Str("fault", sc.Fault.String()).Logger()

	err := util.Sleep(ctx, time.Until(c.startedAt.Add(sc.Window.Start)))
	if err != nil {
		return nil
	}
	log.Info().Str("window", sc.Window.String()).Msg("scenario started")

	err = c.window(ctx, e)
	if err != nil {
		return err
	}
	log.Info().Msg("scenario reverted")

	if sc.VerifyRecovery && ctx.Err() == nil {
		c.verify(ctx, e)
	}

	_ = util.Sleep(ctx, time.Until(c.startedAt.Add(sc.Window.End)))
	return nil
}

// window applies the scenario and returns once everything it applied has
// been reverted.
func (c *Controller) window(ctx context.Context, e *entry) (err error) {
	sc := e.scenario
	start := c.startedAt.Add(sc.Window.Start)
	var reverts []RevertFunc

	defer func() {
		revertErr := c.revert(sc, reverts)
		if revertErr != nil {
			err = multierror.Append(err, revertErr)
		}
	}()

	restore, err := c.shape(e)
	if err != nil {
		return err
	}
	reverts = append(reverts, restore)

	err = util.Sleep(ctx, time.Until(start.Add(sc.Fault.Delay)))
	if err != nil {
		return nil
	}

	var revertFault RevertFunc
	c.tracer.WithSpanFromContext(ctx, trace.ScenarioApplyFault, func() {
		revertFault, err = c.injector.Apply(ctx, sc.Fault)
	})
	if err != nil {
		return fmt.Errorf("could not apply fault of scenario %s: %w", sc.Name, err)
	}
	applied := time.Now()
	c.active.Inc()
	c.metrics.ScenarioStarted(sc.Name, sc.Fault.Type)
	reverts = append(reverts, func(ctx context.Context) error {
		err := revertFault(ctx)
		if err != nil {
			return err
		}
		c.active.Dec()
		c.metrics.ScenarioReverted(sc.Name, sc.Fault.Type, time.Since(applied))
		return nil
	})

	until := c.startedAt.Add(sc.Window.End)
	if sc.Fault.Hold > 0 {
		until = start.Add(sc.Fault.Delay + sc.Fault.Hold)
	}
	_ = util.Sleep(ctx, time.Until(until))
	return nil
}

// revert undoes reverts in reverse order. The run context may already be
// cancelled, so reversion gets a context of its own.
func (c *Controller) revert(sc load.Scenario, reverts []RevertFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.revertTimeout)
	defer cancel()

	var result *multierror.Error
	c.tracer.WithSpanFromContext(ctx, trace.ScenarioRevertFault, func() {
		for i := len(reverts) - 1; i >= 0; i-- {
			err := reverts[i](ctx)
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
	})
	if result.ErrorOrNil() != nil {
		return fmt.Errorf("could not revert scenario %s: %w", sc.Name, result)
	}
	return nil
}

// shape overrides the rate and kind mix of the generator and returns the
// function restoring the previous ones. An override is restored only while it
// is still in place: a rate or mix set during the window, by the admin API or
// the adjuster, takes precedence and is kept.
func (c *Controller) shape(e *entry) (RevertFunc, error) {
	sc := e.scenario
	prevTPS := c.shaper.TPS()
	prevDist := c.shaper.Distribution()

	if sc.TPS > 0 {
		err := c.shaper.SetTPS(sc.TPS)
		if err != nil {
			return nil, fmt.Errorf("could not set tps of scenario %s: %w", sc.Name, err)
		}
	}
	if e.dist != nil {
		c.shaper.SetDistribution(e.dist)
	}

	return func(context.Context) error {
		if e.dist != nil {
			if c.shaper.Distribution() == e.dist {
				c.shaper.SetDistribution(prevDist)
			} else {
				c.log.Info().Str("scenario", sc.Name).Msg("kind mix changed during the window, keeping it")
			}
		}
		if sc.TPS > 0 {
			current := c.shaper.TPS()
			if current != sc.TPS {
				c.log.Info().
					Str("scenario", sc.Name).
					Float64("tps", current).
					Float64("override", sc.TPS).
					Msg("tps changed during the window, keeping it")
				return nil
			}
			err := c.shaper.SetTPS(prevTPS)
			if err != nil {
				return fmt.Errorf("could not restore tps %v: %w", prevTPS, err)
			}
		}
		return nil
	}, nil
}

func (c *Controller) verify(ctx context.Context, e *entry) {
	sc := e.scenario
	var err error
	c.tracer.WithSpanFromContext(ctx, trace.ScenarioCheckRecovery, func() {
		err = c.recovery.CheckRecovery(ctx, sc.Fault)
	})
	if ctx.Err() != nil {
		return
	}
	e.result.SetRecovery(err == nil)
	if err != nil {
		c.log.Warn().Err(err).Str("scenario", sc.Name).Msg("target did not recover after the fault was reverted")
		return
	}
	c.log.Info().Str("scenario", sc.Name).Msg("target recovered")
}
