package chain

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

// Nodes is the simulated set of rollup nodes: one sequencer and a number of
// validators. Requests are routed round-robin over the live nodes.
type Nodes struct {
	log       zerolog.Logger
	sequencer string
	ids       []string

	mu   sync.RWMutex
	down map[string]struct{}
	next *atomic.Uint64
}

// NewNodes creates a node set in which every node is live.
func NewNodes(log zerolog.Logger, sequencer string, validators ...string) *Nodes {
	ids := append([]string{sequencer}, validators...)
	return &Nodes{
		log:       log.With().Str("component", "rollup_nodes").Logger(),
		sequencer: sequencer,
		ids:       ids,
		down:      make(map[string]struct{}),
		next:      atomic.NewUint64(0),
	}
}

// DefaultNodes returns a sequencer with n validators named validator-1..n.
func DefaultNodes(log zerolog.Logger, n int) *Nodes {
	validators := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		validators = append(validators, fmt.Sprintf("validator-%d", i))
	}
	return NewNodes(log, "sequencer", validators...)
}

func (n *Nodes) known(id string) bool {
	for _, known := range n.ids {
		if known == id {
			return true
		}
	}
	return false
}

// IDs returns all node ids, sequencer first.
func (n *Nodes) IDs() []string {
	ids := make([]string, len(n.ids))
	copy(ids, n.ids)
	return ids
}

// Sequencer returns the id of the sequencer node.
func (n *Nodes) Sequencer() string {
	return n.sequencer
}

// Fail marks the given nodes as failed.
func (n *Nodes) Fail(ids ...string) error {
	for _, id := range ids {
		if !n.known(id) {
			return fmt.Errorf("unknown node %s", id)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		n.down[id] = struct{}{}
	}
	n.log.Warn().Strs("nodes", ids).Msg("nodes failed")
	return nil
}

// FailRandom fails every validator independently with probability p and
// returns the ids of the failed nodes. The sequencer is never failed.
func (n *Nodes) FailRandom(dice *sut.Dice, p float64) []string {
	var failed []string
	for _, id := range n.ids {
		if id == n.sequencer {
			continue
		}
		if dice.Chance(p) {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		_ = n.Fail(failed...)
	}
	return failed
}

// Recover brings the given nodes back.
func (n *Nodes) Recover(ids ...string) error {
	for _, id := range ids {
		if !n.known(id) {
			return fmt.Errorf("unknown node %s", id)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		delete(n.down, id)
	}
	n.log.Info().Strs("nodes", ids).Msg("nodes recovered")
	return nil
}

// Live returns the ids of the nodes that are not failed.
func (n *Nodes) Live() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	live := make([]string, 0, len(n.ids))
	for _, id := range n.ids {
		if _, isDown := n.down[id]; !isDown {
			live = append(live, id)
		}
	}
	return live
}

// Route picks the live node that serves the next request.
//
// Expected errors:
//   - sut.NodeUnavailableError if every node is failed
func (n *Nodes) Route() (string, error) {
	live := n.Live()
	if len(live) == 0 {
		return "", sut.NewNodeUnavailableErrorf("all %d nodes are down", len(n.ids))
	}
	return live[int(n.next.Inc()%uint64(len(live)))], nil
}
