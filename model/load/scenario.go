package load

import (
	"fmt"
	"strings"
	"time"
)

// FaultType enumerates the faults a scenario can inject.
type FaultType uint8

const (
	FaultNone FaultType = iota
	// FaultDisconnect takes a chain offline for the scenario window.
	FaultDisconnect
	// FaultLatencyInjection multiplies the latency of a chain, or of the
	// whole SUT when the target is TargetSUT.
	FaultLatencyInjection
	// FaultNodeFailure marks rollup nodes as failed.
	FaultNodeFailure
)

// TargetSUT addresses the SUT itself rather than a single chain.
const TargetSUT = "sut"

func (f FaultType) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultDisconnect:
		return "disconnect"
	case FaultLatencyInjection:
		return "latency"
	case FaultNodeFailure:
		return "node_failure"
	default:
		return fmt.Sprintf("fault(%d)", uint8(f))
	}
}

func ParseFaultType(s string) (FaultType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FaultNone, nil
	case "disconnect":
		return FaultDisconnect, nil
	case "latency", "latency_injection":
		return FaultLatencyInjection, nil
	case "node_failure", "nodefailure":
		return FaultNodeFailure, nil
	default:
		return FaultNone, fmt.Errorf("unknown fault type %q", s)
	}
}

func (f FaultType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FaultType) UnmarshalText(text []byte) error {
	parsed, err := ParseFaultType(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Fault describes the impairment a scenario applies for its window.
type Fault struct {
	Type   FaultType
	Target string
	// Factor scales latency for FaultLatencyInjection.
	Factor float64
	// Nodes lists the failed nodes for FaultNodeFailure. When empty, every
	// non-sequencer node fails independently with FailureProbability.
	Nodes              []string
	FailureProbability float64
	// Delay postpones the fault relative to the window start. Hold bounds
	// how long the fault stays applied; 0 keeps it until the window ends.
	Delay time.Duration
	Hold  time.Duration
}

func (f Fault) String() string {
	switch f.Type {
	case FaultDisconnect:
		return fmt.Sprintf("disconnect(%s)", f.Target)
	case FaultLatencyInjection:
		return fmt.Sprintf("latency(%s, x%.2f)", f.Target, f.Factor)
	case FaultNodeFailure:
		if len(f.Nodes) == 0 {
			return fmt.Sprintf("node_failure(p=%.2f)", f.FailureProbability)
		}
		return fmt.Sprintf("node_failure(%s)", strings.Join(f.Nodes, ","))
	default:
		return "none"
	}
}

// Validate checks that the fault carries the parameters its type needs.
func (f Fault) Validate() error {
	if f.Delay < 0 || f.Hold < 0 {
		return fmt.Errorf("fault delay and hold must not be negative")
	}
	switch f.Type {
	case FaultNone:
		return nil
	case FaultDisconnect:
		if f.Target == "" || f.Target == TargetSUT {
			return fmt.Errorf("disconnect fault requires a chain target")
		}
	case FaultLatencyInjection:
		if f.Target == "" {
			return fmt.Errorf("latency fault requires a target")
		}
		if f.Factor <= 0 {
			return fmt.Errorf("latency factor must be positive, got %v", f.Factor)
		}
	case FaultNodeFailure:
		if len(f.Nodes) == 0 && (f.FailureProbability <= 0 || f.FailureProbability > 1) {
			return fmt.Errorf("node failure requires nodes or a failure probability in (0, 1]")
		}
	default:
		return fmt.Errorf("unsupported fault type %v", f.Type)
	}
	return nil
}

// Window is a half-open interval [Start, End) relative to the run start.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start, w.End)
}

// Scenario is a timed load window with an optional fault.
type Scenario struct {
	Name   string
	Window Window
	Fault  Fault
	// TPS overrides the base rate during the window when positive.
	TPS float64
	// Mix overrides the base kind distribution when not empty.
	Mix map[Kind]float64
	// VerifyRecovery sends a probe through the fault target after the fault
	// is reverted and records whether it succeeded.
	VerifyRecovery bool
}

// Validate checks the window and fault of the scenario.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name must not be empty")
	}
	if s.Window.Start < 0 || s.Window.End <= s.Window.Start {
		return fmt.Errorf("scenario %s: invalid window %s", s.Name, s.Window)
	}
	if s.TPS < 0 {
		return fmt.Errorf("scenario %s: negative tps", s.Name)
	}
	for k, w := range s.Mix {
		if w < 0 {
			return fmt.Errorf("scenario %s: negative weight for %s", s.Name, k)
		}
	}
	if s.Fault.Delay+s.Fault.Hold > s.Window.Duration() {
		return fmt.Errorf("scenario %s: fault delay and hold exceed the window", s.Name)
	}
	if err := s.Fault.Validate(); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return nil
}
