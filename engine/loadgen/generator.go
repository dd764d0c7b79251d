// Package loadgen produces work items at a controlled rate and executes them
// against a SUT with a fixed pool of workers.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/queue"
)

const (
	// DefaultPushTimeout is how long the generator waits for queue capacity
	// before it drops an item.
	DefaultPushTimeout = 100 * time.Millisecond

	// maxLag bounds how far the generator catches up after falling behind
	// its schedule. Beyond it the schedule is re-anchored.
	maxLag = time.Second
)

// PayloadFactory builds the payload of the item with sequence number seq.
type PayloadFactory func(seq uint64, kind load.Kind) ([]byte, error)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	TPS float64
	// MaxItems stops the generator after that many items; 0 means no limit.
	MaxItems    uint64
	PushTimeout time.Duration
}

// Generator paces work items into the queue. Item n after the last anchor is
// due at anchor + n/TPS; the generator sleeps until the due time of every
// item, so the average rate over a second stays on target even when
// individual sleeps overshoot.
type Generator struct {
	log      zerolog.Logger
	queue    *queue.Queue[*load.WorkItem]
	recorder module.LoadRecorder
	metrics  module.GeneratorMetrics
	payloads PayloadFactory
	cfg      GeneratorConfig

	tps         *atomic.Float64
	rateChanged module.Notifier
	seq         *atomic.Uint64

	mu   sync.RWMutex
	dist *Distribution
}

func NewGenerator(
	log zerolog.Logger,
	cfg GeneratorConfig,
	q *queue.Queue[*load.WorkItem],
	dist *Distribution,
	payloads PayloadFactory,
	recorder module.LoadRecorder,
	metrics module.GeneratorMetrics,
) (*Generator, error) {
	if cfg.TPS <= 0 {
		return nil, fmt.Errorf("target tps must be positive, got %v", cfg.TPS)
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	return &Generator{
		log:         log.With().Str("component", "generator").Logger(),
		queue:       q,
		recorder:    recorder,
		metrics:     metrics,
		payloads:    payloads,
		cfg:         cfg,
		tps:         atomic.NewFloat64(cfg.TPS),
		rateChanged: module.NewNotifier(),
		seq:         atomic.NewUint64(0),
		dist:        dist,
	}, nil
}

// TPS returns the rate the generator currently paces at.
func (g *Generator) TPS() float64 {
	return g.tps.Load()
}

// SetTPS changes the rate. The running pacing loop picks it up immediately.
func (g *Generator) SetTPS(tps float64) error {
	if tps <= 0 {
		return fmt.Errorf("target tps must be positive, got %v", tps)
	}
	prev := g.tps.Swap(tps)
	if prev != tps {
		g.log.Info().Float64("tps", tps).Float64("previous", prev).Msg("target tps changed")
		g.metrics.TargetTPS(tps)
		g.rateChanged.Notify()
	}
	return nil
}

// Distribution returns the kind distribution items are drawn from.
func (g *Generator) Distribution() *Distribution {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dist
}

// SetDistribution replaces the kind distribution.
func (g *Generator) SetDistribution(dist *Distribution) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dist = dist
}

// Generated returns the number of items produced so far.
func (g *Generator) Generated() uint64 {
	return g.seq.Load()
}

// Run generates items until duration elapsed, MaxItems were produced, the
// queue was closed or ctx is done. It stops within one period of a
// cancellation. Run does not close the queue.
//
// No errors are expected during normal operation; a failing payload factory
// is reported as an error.
func (g *Generator) Run(ctx context.Context, duration time.Duration) error {
	start := time.Now()
	deadline := start.Add(duration)
	g.metrics.TargetTPS(g.TPS())
	g.log.Info().
		Float64("tps", g.TPS()).
		Dur("duration", duration).
		Uint64("max_items", g.cfg.MaxItems).
		Msg("generator started")

	anchor := start
	tps := g.TPS()
	var sinceAnchor uint64

	for {
		if g.cfg.MaxItems > 0 && g.seq.Load() >= g.cfg.MaxItems {
			g.log.Info().Uint64("items", g.seq.Load()).Msg("generator reached item limit")
			return nil
		}

		due := anchor.Add(time.Duration(float64(sinceAnchor) / tps * float64(time.Second)))
		if !due.Before(deadline) {
			g.log.Info().Uint64("items", g.seq.Load()).Msg("generator finished")
			return nil
		}

		wait := time.Until(due)
		if wait < -maxLag {
			// too far behind to catch up without a burst
			anchor, sinceAnchor = time.Now(), 0
			continue
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-g.rateChanged.Channel():
				timer.Stop()
				anchor, sinceAnchor, tps = time.Now(), 0, g.TPS()
				continue
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		stop, err := g.emit(ctx)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		sinceAnchor++

		if current := g.TPS(); current != tps {
			anchor, sinceAnchor, tps = time.Now(), 0, current
		}
	}
}

// emit creates one item and hands it to the queue. It returns true when the
// queue no longer accepts items.
func (g *Generator) emit(ctx context.Context) (bool, error) {
	seq := g.seq.Inc()
	kind := g.Distribution().Pick()
	payload, err := g.payloads(seq, kind)
	if err != nil {
		return true, fmt.Errorf("could not build payload for item %d of kind %s: %w", seq, kind, err)
	}
	item := load.NewWorkItem(seq, kind, payload, time.Now())
	g.recorder.RecordGenerated(item)

	err = g.queue.PushWait(ctx, item, g.cfg.PushTimeout)
	switch {
	case err == nil:
		g.metrics.ItemGenerated(kind)
		return false, nil
	case errors.Is(err, queue.ErrFull):
		g.drop(item)
		return false, nil
	case errors.Is(err, queue.ErrClosed):
		g.drop(item)
		return true, nil
	default:
		// cancelled while waiting for capacity
		g.drop(item)
		return true, nil
	}
}

func (g *Generator) drop(item *load.WorkItem) {
	g.recorder.RecordDropped(item)
	g.metrics.ItemDropped(item.Kind)
	g.log.Debug().Str("item_id", item.ID).Str("kind", item.Kind.String()).Msg("work item dropped")
}
