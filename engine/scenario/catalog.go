package scenario

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

// Names of the built-in scenarios.
const (
	HighTPSBurst       = "high_tps_burst"
	LargeBatch         = "large_batch"
	MixedTypes         = "mixed_types"
	NodeFailure        = "node_failure"
	NetworkLatency     = "network_latency"
	ChainDisconnection = "chain_disconnection"
	NetworkCongestion  = "network_congestion"
)

const (
	// latencyFactor scales the base SUT delay to about 100ms per call.
	latencyFactor    = 100
	congestionFactor = 5
	nodeFailureRate  = 0.5
)

type builtin struct {
	name string
	// weight is the share of the run given to the scenario window.
	weight int
	build  func(b catalogParams) (load.Scenario, error)
}

type catalogParams struct {
	baseTPS float64
	window  time.Duration
	chains  []string
	dice    *sut.Dice
}

func (p catalogParams) chain() (string, error) {
	if len(p.chains) == 0 {
		return "", fmt.Errorf("no chain to inject the fault into")
	}
	return p.chains[p.dice.Intn(len(p.chains))], nil
}

var builtins = []builtin{
	{
		name:   HighTPSBurst,
		weight: 1,
		build: func(p catalogParams) (load.Scenario, error) {
			return load.Scenario{TPS: 2 * p.baseTPS}, nil
		},
	},
	{
		name:   LargeBatch,
		weight: 2,
		build: func(p catalogParams) (load.Scenario, error) {
			return load.Scenario{
				Mix: map[load.Kind]float64{
					load.KindBridgeDeposit:      6,
					load.KindBridgeWithdrawal:   2,
					load.KindCrossChainTransfer: 1,
					load.KindFinalizationBlock:  1,
				},
			}, nil
		},
	},
	{
		name:   MixedTypes,
		weight: 2,
		build: func(p catalogParams) (load.Scenario, error) {
			mix := make(map[load.Kind]float64)
			for _, k := range load.AllKinds() {
				mix[k] = 1
			}
			return load.Scenario{Mix: mix}, nil
		},
	},
	{
		name:   NodeFailure,
		weight: 2,
		build: func(p catalogParams) (load.Scenario, error) {
			return load.Scenario{
				Fault: load.Fault{
					Type:               load.FaultNodeFailure,
					FailureProbability: nodeFailureRate,
					Delay:              p.window / 3,
					Hold:               p.window / 3,
				},
				VerifyRecovery: true,
			}, nil
		},
	},
	{
		name:   NetworkLatency,
		weight: 2,
		build: func(p catalogParams) (load.Scenario, error) {
			return load.Scenario{
				Fault: load.Fault{
					Type:   load.FaultLatencyInjection,
					Target: load.TargetSUT,
					Factor: latencyFactor,
				},
				VerifyRecovery: true,
			}, nil
		},
	},
	{
		name:   ChainDisconnection,
		weight: 2,
		build: func(p catalogParams) (load.Scenario, error) {
			target, err := p.chain()
			if err != nil {
				return load.Scenario{}, err
			}
			return load.Scenario{
				Fault: load.Fault{
					Type:   load.FaultDisconnect,
					Target: target,
				},
				VerifyRecovery: true,
			}, nil
		},
	},
	{
		name:   NetworkCongestion,
		weight: 2,
		build: func(p catalogParams) (load.Scenario, error) {
			target, err := p.chain()
			if err != nil {
				return load.Scenario{}, err
			}
			return load.Scenario{
				Fault: load.Fault{
					Type:   load.FaultLatencyInjection,
					Target: target,
					Factor: congestionFactor,
				},
				VerifyRecovery: true,
			}, nil
		},
	},
}

// CatalogNames lists the built-in scenarios in the order they run.
func CatalogNames() []string {
	names := make([]string, 0, len(builtins))
	for _, b := range builtins {
		names = append(names, b.name)
	}
	return names
}

// Catalog builds the named built-in scenarios, all of them when names
// contains "all" and none when names is empty. The run duration is split among the selected
// scenarios in catalog order, bursts getting half the time of the others.
// Chain faults target a random chain of chains.
func Catalog(names []string, duration time.Duration, baseTPS float64, chains []string, dice *sut.Dice) ([]load.Scenario, error) {
	selected, err := selectBuiltins(names)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, nil
	}
	if duration <= 0 {
		return nil, fmt.Errorf("scenarios need a positive run duration, got %s", duration)
	}

	var total int
	for _, b := range selected {
		total += b.weight
	}
	unit := duration / time.Duration(total)
	if unit <= 0 {
		return nil, fmt.Errorf("run duration %s is too short for %d scenarios", duration, len(selected))
	}

	scenarios := make([]load.Scenario, 0, len(selected))
	var start time.Duration
	for _, b := range selected {
		window := unit * time.Duration(b.weight)
		sc, err := b.build(catalogParams{
			baseTPS: baseTPS,
			window:  window,
			chains:  chains,
			dice:    dice,
		})
		if err != nil {
			return nil, fmt.Errorf("could not build scenario %s: %w", b.name, err)
		}
		sc.Name = b.name
		sc.Window = load.Window{Start: start, End: start + window}
		scenarios = append(scenarios, sc)
		start += window
	}
	return scenarios, nil
}

func selectBuiltins(names []string) ([]builtin, error) {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
		if name == "" {
			continue
		}
		if name == "all" {
			return builtins, nil
		}
		want[name] = true
	}
	if len(want) == 0 {
		return nil, nil
	}

	var selected []builtin
	for _, b := range builtins {
		if want[b.name] {
			selected = append(selected, b)
			delete(want, b.name)
		}
	}
	if len(want) > 0 {
		unknown := maps.Keys(want)
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown scenarios %s, known scenarios: %s", strings.Join(unknown, ", "), strings.Join(CatalogNames(), ", "))
	}
	return selected, nil
}
