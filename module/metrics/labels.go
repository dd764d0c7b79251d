package metrics

const (
	LabelKind      = "kind"
	LabelStatus    = "status"
	LabelErrorKind = "error_kind"
	LabelScenario  = "scenario"
	LabelFault     = "fault"
	LabelResource  = "resource"
)

const (
	namespaceLoadTest = "loadtest"
)

const (
	subsystemGenerator = "generator"
	subsystemWorkers   = "workers"
	subsystemQueue     = "queue"
	subsystemSampler   = "sampler"
	subsystemScenario  = "scenario"
)

const (
	ResourceCPU    = "cpu"
	ResourceMemory = "memory"
)
