package loadgen

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAdjustInterval = 5 * time.Second
	// AdditiveStep is added to the rate after a healthy interval.
	AdditiveStep = 100
	// MultiplicativeFactor scales the rate down after an unhealthy interval.
	MultiplicativeFactor = 0.9
)

// Counts is a snapshot of the processed and failed item counters.
type Counts interface {
	Counts() (total uint64, failed uint64)
}

// RateSetter is the rate control of a generator.
type RateSetter interface {
	TPS() float64
	SetTPS(tps float64) error
}

// Adjuster searches the highest sustainable rate with additive increase and
// multiplicative decrease: every interval, the rate grows by AdditiveStep
// while the failed ratio of the interval stays within the threshold, and is
// scaled by MultiplicativeFactor otherwise.
type Adjuster struct {
	log       zerolog.Logger
	rate      RateSetter
	counts    Counts
	interval  time.Duration
	threshold float64
	maxTPS    float64

	lastTotal  uint64
	lastFailed uint64
}

func NewAdjuster(log zerolog.Logger, rate RateSetter, counts Counts, interval time.Duration, threshold float64, maxTPS float64) *Adjuster {
	if interval <= 0 {
		interval = DefaultAdjustInterval
	}
	return &Adjuster{
		log:       log.With().Str("component", "tps_adjuster").Logger(),
		rate:      rate,
		counts:    counts,
		interval:  interval,
		threshold: threshold,
		maxTPS:    maxTPS,
	}
}

// Run adjusts the rate every interval until ctx is done.
func (a *Adjuster) Run(ctx context.Context) error {
	a.lastTotal, a.lastFailed = a.counts.Counts()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Adjust()
		}
	}
}

// Adjust applies one AIMD step based on the outcomes since the last step.
// An interval without processed items leaves the rate unchanged.
func (a *Adjuster) Adjust() {
	total, failed := a.counts.Counts()
	dTotal, dFailed := total-a.lastTotal, failed-a.lastFailed
	a.lastTotal, a.lastFailed = total, failed
	if dTotal == 0 {
		return
	}

	ratio := float64(dFailed) / float64(dTotal)
	current := a.rate.TPS()
	next := current + AdditiveStep
	if ratio > a.threshold {
		next = current * MultiplicativeFactor
	}
	if a.maxTPS > 0 && next > a.maxTPS {
		next = a.maxTPS
	}
	if next < 1 {
		next = 1
	}

	err := a.rate.SetTPS(next)
	if err != nil {
		a.log.Warn().Err(err).Msg("could not adjust tps")
		return
	}
	a.log.Debug().
		Float64("failed_ratio", ratio).
		Float64("tps", next).
		Msg("tps adjusted")
}
