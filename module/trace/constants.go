package trace

// SpanName is the name of a span emitted by the harness.
type SpanName string

func (s SpanName) Child(subOp string) SpanName {
	return s + SpanName(".") + SpanName(subOp)
}

const (
	// Worker
	WorkerExecuteItem SpanName = "worker.executeItem"
	WorkerSubmit      SpanName = "worker.submit"
	WorkerAdvance     SpanName = "worker.advance"

	// Scenario controller
	ScenarioApplyFault    SpanName = "scenario.applyFault"
	ScenarioRevertFault   SpanName = "scenario.revertFault"
	ScenarioCheckRecovery SpanName = "scenario.checkRecovery"

	// Security probes
	ProbeRun SpanName = "probe.run"
)
