package scenario

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// Plan is the YAML form of a list of scenarios:
//
//	scenarios:
//	  - name: ethereum outage
//	    start: 10s
//	    end: 40s
//	    verify_recovery: true
//	    fault:
//	      type: disconnect
//	      target: ethereum
type Plan struct {
	Scenarios []PlanScenario `yaml:"scenarios"`
}

type PlanScenario struct {
	Name           string             `yaml:"name"`
	Start          time.Duration      `yaml:"start"`
	End            time.Duration      `yaml:"end"`
	TPS            float64            `yaml:"tps"`
	Mix            map[string]float64 `yaml:"mix"`
	VerifyRecovery bool               `yaml:"verify_recovery"`
	Fault          PlanFault          `yaml:"fault"`
}

type PlanFault struct {
	Type        string        `yaml:"type"`
	Target      string        `yaml:"target"`
	Factor      float64       `yaml:"factor"`
	Nodes       []string      `yaml:"nodes"`
	Probability float64       `yaml:"probability"`
	Delay       time.Duration `yaml:"delay"`
	Hold        time.Duration `yaml:"hold"`
}

// ReadPlan loads a plan file.
func ReadPlan(path string) ([]load.Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read scenario plan: %w", err)
	}
	scenarios, err := ParsePlan(b)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario plan %s: %w", path, err)
	}
	return scenarios, nil
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(b []byte) ([]load.Scenario, error) {
	var plan Plan
	err := yaml.UnmarshalStrict(b, &plan)
	if err != nil {
		return nil, err
	}

	scenarios := make([]load.Scenario, 0, len(plan.Scenarios))
	for _, ps := range plan.Scenarios {
		sc, err := ps.scenario()
		if err != nil {
			return nil, err
		}
		err = sc.Validate()
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func (ps PlanScenario) scenario() (load.Scenario, error) {
	faultType, err := load.ParseFaultType(ps.Fault.Type)
	if err != nil {
		return load.Scenario{}, fmt.Errorf("scenario %s: %w", ps.Name, err)
	}
	var mix map[load.Kind]float64
	if len(ps.Mix) > 0 {
		mix = make(map[load.Kind]float64, len(ps.Mix))
		for name, w := range ps.Mix {
			kind, err := load.ParseKind(name)
			if err != nil {
				return load.Scenario{}, fmt.Errorf("scenario %s: %w", ps.Name, err)
			}
			mix[kind] = w
		}
	}
	return load.Scenario{
		Name:   ps.Name,
		Window: load.Window{Start: ps.Start, End: ps.End},
		Fault: load.Fault{
			Type:               faultType,
			Target:             ps.Fault.Target,
			Factor:             ps.Fault.Factor,
			Nodes:              ps.Fault.Nodes,
			FailureProbability: ps.Fault.Probability,
			Delay:              ps.Fault.Delay,
			Hold:               ps.Fault.Hold,
		},
		TPS:            ps.TPS,
		Mix:            mix,
		VerifyRecovery: ps.VerifyRecovery,
	}, nil
}
