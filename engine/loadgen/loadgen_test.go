package loadgen_test

import (
	"sync"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// recorder collects every outcome and counts generated and dropped items.
type recorder struct {
	mu        sync.Mutex
	outcomes  map[string][]load.Outcome
	generated int
	dropped   int
}

func newRecorder() *recorder {
	return &recorder{outcomes: make(map[string][]load.Outcome)}
}

func (r *recorder) Record(o load.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o.ItemID] = append(r.outcomes[o.ItemID], o)
}

func (r *recorder) RecordGenerated(*load.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generated++
}

func (r *recorder) RecordDropped(*load.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *recorder) counts() (generated, dropped, recorded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generated, r.dropped, len(r.outcomes)
}

func (r *recorder) byStatus() map[load.Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[load.Status]int)
	for _, outcomes := range r.outcomes {
		for _, o := range outcomes {
			counts[o.Status]++
		}
	}
	return counts
}

// duplicates returns the ids of items with more than one outcome.
func (r *recorder) duplicates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, outcomes := range r.outcomes {
		if len(outcomes) != 1 {
			ids = append(ids, id)
		}
	}
	return ids
}

func staticPayload(uint64, load.Kind) ([]byte, error) {
	return []byte{0x01}, nil
}
