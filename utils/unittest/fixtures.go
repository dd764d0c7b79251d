package unittest

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// WorkItemFixture returns a work item of the given kind with a random payload.
func WorkItemFixture(kind load.Kind) *load.WorkItem {
	payload := make([]byte, 16)
	_, _ = rand.Read(payload)
	return load.NewWorkItem(rand.Uint64(), kind, payload, time.Now())
}

// OutcomeFixture returns an outcome for a fresh item completed after latency.
func OutcomeFixture(kind load.Kind, status load.Status, errKind load.ErrorKind, latency time.Duration) load.Outcome {
	submitted := time.Now().Add(-latency)
	return load.Outcome{
		ItemID:      uuid.NewString(),
		Kind:        kind,
		Status:      status,
		ErrorKind:   errKind,
		SubmittedAt: submitted,
		CompletedAt: submitted.Add(latency),
	}
}

// OutcomesFixture returns n confirmed outcomes with latencies 1ms..n ms.
func OutcomesFixture(n int) []load.Outcome {
	outcomes := make([]load.Outcome, 0, n)
	for i := 1; i <= n; i++ {
		outcomes = append(outcomes, OutcomeFixture(load.KindBridgeDeposit, load.StatusConfirmed, load.ErrorKindNone, time.Duration(i)*time.Millisecond))
	}
	return outcomes
}
