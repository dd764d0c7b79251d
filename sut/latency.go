package sut

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/util"
)

// LatencyInjectingSUT delays every call to the wrapped SUT by
// base*factor plus a random jitter. The delay happens before the wrapped SUT
// is called, so no entity guard is held while waiting.
//
// The factor starts at 1 and is changed by SetFactor while the SUT is in use.
type LatencyInjectingSUT struct {
	log    zerolog.Logger
	base   SUT
	delay  time.Duration
	jitter time.Duration
	factor *atomic.Float64
	dice   *Dice
}

var _ SUT = (*LatencyInjectingSUT)(nil)

func NewLatencyInjectingSUT(log zerolog.Logger, base SUT, delay, jitter time.Duration, dice *Dice) *LatencyInjectingSUT {
	return &LatencyInjectingSUT{
		log:    log.With().Str("component", "latency_sut").Logger(),
		base:   base,
		delay:  delay,
		jitter: jitter,
		factor: atomic.NewFloat64(1),
		dice:   dice,
	}
}

// SetFactor changes the latency multiplier and returns the previous one.
func (l *LatencyInjectingSUT) SetFactor(factor float64) (float64, error) {
	if factor <= 0 {
		return 0, fmt.Errorf("latency factor must be positive, got %v", factor)
	}
	prev := l.factor.Swap(factor)
	l.log.Info().Float64("factor", factor).Float64("previous", prev).Msg("latency factor changed")
	return prev, nil
}

// Factor returns the current latency multiplier.
func (l *LatencyInjectingSUT) Factor() float64 {
	return l.factor.Load()
}

func (l *LatencyInjectingSUT) wait(ctx context.Context) error {
	d := time.Duration(float64(l.delay)*l.factor.Load()) + l.dice.Jitter(l.jitter)
	return util.Sleep(ctx, d)
}

func (l *LatencyInjectingSUT) Submit(ctx context.Context, kind load.Kind, payload []byte) (EntityID, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.base.Submit(ctx, kind, payload)
}

func (l *LatencyInjectingSUT) Advance(ctx context.Context, id EntityID, input Input) (State, error) {
	if err := l.wait(ctx); err != nil {
		return State{}, err
	}
	return l.base.Advance(ctx, id, input)
}

// CurrentState is not delayed; it is a local read.
func (l *LatencyInjectingSUT) CurrentState(ctx context.Context, id EntityID) (State, error) {
	return l.base.CurrentState(ctx, id)
}
