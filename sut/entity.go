package sut

import (
	"fmt"
	"time"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// Record is the protocol specific data attached to an entity.
type Record interface {
	// Clone returns a deep copy, used for snapshots handed out of the store.
	Clone() Record
}

// Transition is one entry of the audit history of an entity.
type Transition struct {
	From   string
	To     string
	Action Action
	At     time.Time
}

// Entity is a protocol object tracked by the Store: a proof, a block, a
// deposit, a withdrawal or a cross-chain transfer.
type Entity struct {
	ID        EntityID
	Kind      load.Kind
	State     State
	CreatedAt time.Time
	History   []Transition
	Data      Record
}

// Transition moves the entity to state to and appends the step to its history.
// It panics when the entity is already terminal, since protocols must check
// legality before mutating.
func (e *Entity) Transition(to State, action Action, at time.Time) {
	if e.State.Terminal {
		panic(fmt.Sprintf("entity %s: transition %s -> %s out of terminal state", e.ID, e.State, to))
	}
	e.History = append(e.History, Transition{
		From:   e.State.Name,
		To:     to.Name,
		Action: action,
		At:     at,
	})
	e.State = to
}

// snapshot returns a deep copy of the entity.
func (e *Entity) snapshot() *Entity {
	c := *e
	c.History = make([]Transition, len(e.History))
	copy(c.History, e.History)
	if e.Data != nil {
		c.Data = e.Data.Clone()
	}
	return &c
}

// Path returns the sequence of state names the entity went through,
// starting with its initial state.
func (e *Entity) Path() []string {
	if len(e.History) == 0 {
		return []string{e.State.Name}
	}
	path := make([]string, 0, len(e.History)+1)
	path = append(path, e.History[0].From)
	for _, t := range e.History {
		path = append(path, t.To)
	}
	return path
}

// Graph lists the legal transitions of a state machine by state name.
type Graph map[string][]string

// CheckHistory verifies that the history of e is a contiguous path through g.
func (g Graph) CheckHistory(e *Entity) error {
	prev := ""
	for i, t := range e.History {
		if i > 0 && t.From != prev {
			return fmt.Errorf("entity %s: step %d starts at %s, previous step ended at %s", e.ID, i, t.From, prev)
		}
		legal := false
		for _, to := range g[t.From] {
			if to == t.To {
				legal = true
				break
			}
		}
		if !legal {
			return fmt.Errorf("entity %s: step %d %s -> %s is not a legal transition", e.ID, i, t.From, t.To)
		}
		prev = t.To
	}
	if len(e.History) > 0 && prev != e.State.Name {
		return fmt.Errorf("entity %s: history ends at %s but state is %s", e.ID, prev, e.State)
	}
	return nil
}
