package module

import (
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// OutcomeRecorder receives terminal outcomes from workers. Implementations
// must be safe for concurrent use.
type OutcomeRecorder interface {
	Record(outcome load.Outcome)
}

// DropRecorder receives items the generator could not enqueue.
type DropRecorder interface {
	RecordDropped(item *load.WorkItem)
}

// LoadRecorder is the sink the generator and the worker pool report to.
type LoadRecorder interface {
	OutcomeRecorder
	DropRecorder
	// RecordGenerated is called for every item the generator produced,
	// whether it was enqueued or dropped.
	RecordGenerated(item *load.WorkItem)
}
