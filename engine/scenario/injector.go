package scenario

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

// ChainFaults is implemented by the simulated chain network.
type ChainFaults interface {
	Has(name string) bool
	Disconnect(name string) error
	Connect(ctx context.Context, name string) error
	SetLatencyFactor(name string, factor float64) (float64, error)
}

// LatencyFaults is implemented by sut.LatencyInjectingSUT.
type LatencyFaults interface {
	SetFactor(factor float64) (float64, error)
}

// NodeFaults is implemented by the simulated rollup node set.
type NodeFaults interface {
	Fail(ids ...string) error
	FailRandom(dice *sut.Dice, p float64) []string
	Recover(ids ...string) error
}

// RevertFunc undoes an applied fault.
type RevertFunc func(ctx context.Context) error

func noRevert(context.Context) error { return nil }

// Injector applies faults to the fault targets of the SUT.
type Injector struct {
	log     zerolog.Logger
	chains  ChainFaults
	latency LatencyFaults
	nodes   NodeFaults
	dice    *sut.Dice
}

func NewInjector(log zerolog.Logger, chains ChainFaults, latency LatencyFaults, nodes NodeFaults, dice *sut.Dice) *Injector {
	return &Injector{
		log:     log.With().Str("component", "fault_injector").Logger(),
		chains:  chains,
		latency: latency,
		nodes:   nodes,
		dice:    dice,
	}
}

// Check verifies that the target of fault exists.
func (i *Injector) Check(fault load.Fault) error {
	err := fault.Validate()
	if err != nil {
		return err
	}
	switch fault.Type {
	case load.FaultDisconnect:
		if i.chains == nil || !i.chains.Has(fault.Target) {
			return fmt.Errorf("unknown chain %q", fault.Target)
		}
	case load.FaultLatencyInjection:
		if fault.Target == load.TargetSUT {
			if i.latency == nil {
				return fmt.Errorf("sut latency cannot be injected")
			}
		} else if i.chains == nil || !i.chains.Has(fault.Target) {
			return fmt.Errorf("unknown chain %q", fault.Target)
		}
	case load.FaultNodeFailure:
		if i.nodes == nil {
			return fmt.Errorf("node failures cannot be injected")
		}
	}
	return nil
}

// Apply applies fault and returns the function that reverts it. The revert
// function must be called exactly once, even if the run is interrupted.
func (i *Injector) Apply(ctx context.Context, fault load.Fault) (RevertFunc, error) {
	err := i.Check(fault)
	if err != nil {
		return nil, err
	}
	log := i.log.With().Str("fault", fault.String()).Logger()

	switch fault.Type {
	case load.FaultNone:
		return noRevert, nil

	case load.FaultDisconnect:
		err := i.chains.Disconnect(fault.Target)
		if err != nil {
			return nil, fmt.Errorf("could not disconnect %s: %w", fault.Target, err)
		}
		log.Info().Msg("fault applied")
		return func(ctx context.Context) error {
			err := i.chains.Connect(ctx, fault.Target)
			if err != nil {
				return fmt.Errorf("could not reconnect %s: %w", fault.Target, err)
			}
			log.Info().Msg("fault reverted")
			return nil
		}, nil

	case load.FaultLatencyInjection:
		if fault.Target == load.TargetSUT {
			prev, err := i.latency.SetFactor(fault.Factor)
			if err != nil {
				return nil, err
			}
			log.Info().Msg("fault applied")
			return func(context.Context) error {
				_, err := i.latency.SetFactor(prev)
				if err != nil {
					return fmt.Errorf("could not restore sut latency factor %v: %w", prev, err)
				}
				log.Info().Msg("fault reverted")
				return nil
			}, nil
		}
		prev, err := i.chains.SetLatencyFactor(fault.Target, fault.Factor)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("fault applied")
		return func(context.Context) error {
			_, err := i.chains.SetLatencyFactor(fault.Target, prev)
			if err != nil {
				return fmt.Errorf("could not restore latency factor %v of %s: %w", prev, fault.Target, err)
			}
			log.Info().Msg("fault reverted")
			return nil
		}, nil

	case load.FaultNodeFailure:
		failed := fault.Nodes
		if len(failed) > 0 {
			err := i.nodes.Fail(failed...)
			if err != nil {
				return nil, err
			}
		} else {
			failed = i.nodes.FailRandom(i.dice, fault.FailureProbability)
		}
		log.Info().Strs("nodes", failed).Msg("fault applied")
		return func(context.Context) error {
			if len(failed) == 0 {
				return nil
			}
			err := i.nodes.Recover(failed...)
			if err != nil {
				return fmt.Errorf("could not recover nodes %v: %w", failed, err)
			}
			log.Info().Msg("fault reverted")
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("unsupported fault type %v", fault.Type)
	}
}
