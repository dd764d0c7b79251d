package journal

import (
	"time"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

type runRecord struct {
	StartedAt time.Time
	EndedAt   time.Time
	Scenarios []scenarioRecord
}

type scenarioRecord struct {
	Name               string
	Start              time.Duration
	End                time.Duration
	FaultType          uint8
	Target             string
	Factor             float64
	Nodes              []string
	Probability        float64
	Delay              time.Duration
	Hold               time.Duration
	TPS                float64
	RecoveryChecked    bool
	RecoverySuccessful bool
}

func newScenarioRecord(s load.Scenario) scenarioRecord {
	return scenarioRecord{
		Name:        s.Name,
		Start:       s.Window.Start,
		End:         s.Window.End,
		FaultType:   uint8(s.Fault.Type),
		Target:      s.Fault.Target,
		Factor:      s.Fault.Factor,
		Nodes:       s.Fault.Nodes,
		Probability: s.Fault.FailureProbability,
		Delay:       s.Fault.Delay,
		Hold:        s.Fault.Hold,
		TPS:         s.TPS,
	}
}

// scenario restores the fields of the scenario that take part in the result.
// The kind mix is not journaled.
func (r scenarioRecord) scenario() load.Scenario {
	return load.Scenario{
		Name:   r.Name,
		Window: load.Window{Start: r.Start, End: r.End},
		Fault: load.Fault{
			Type:               load.FaultType(r.FaultType),
			Target:             r.Target,
			Factor:             r.Factor,
			Nodes:              r.Nodes,
			FailureProbability: r.Probability,
			Delay:              r.Delay,
			Hold:               r.Hold,
		},
		TPS: r.TPS,
	}
}

type outcomeRecord struct {
	ItemID      string
	Kind        uint8
	EntityID    string
	Status      uint8
	ErrorKind   string
	Error       string
	SubmittedAt time.Time
	CompletedAt time.Time
}

func newOutcomeRecord(o load.Outcome) outcomeRecord {
	return outcomeRecord{
		ItemID:      o.ItemID,
		Kind:        uint8(o.Kind),
		EntityID:    o.EntityID,
		Status:      uint8(o.Status),
		ErrorKind:   string(o.ErrorKind),
		Error:       o.Error,
		SubmittedAt: o.SubmittedAt,
		CompletedAt: o.CompletedAt,
	}
}

func (r outcomeRecord) outcome() load.Outcome {
	return load.Outcome{
		ItemID:      r.ItemID,
		Kind:        load.Kind(r.Kind),
		EntityID:    r.EntityID,
		Status:      load.Status(r.Status),
		ErrorKind:   load.ErrorKind(r.ErrorKind),
		Error:       r.Error,
		SubmittedAt: r.SubmittedAt,
		CompletedAt: r.CompletedAt,
	}
}

type droppedRecord struct {
	ItemID      string
	Kind        uint8
	SubmittedAt time.Time
}
