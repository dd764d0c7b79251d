// Package sut defines the contract between the load harness and a protocol
// under test, together with the entity store concrete protocols build on.
package sut

import (
	"context"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// EntityID identifies an entity created by Submit.
type EntityID string

// State is a snapshot of the state machine value of an entity.
type State struct {
	Name     string
	Terminal bool
}

func (s State) String() string {
	return s.Name
}

// Action names the transition an Advance call asks for.
type Action string

// ActionNext lets the protocol pick the next legal transition of the entity.
const ActionNext Action = "next"

// Input is the transition request passed to Advance.
type Input struct {
	Action Action
	// Data carries action specific arguments, encoded like item payloads.
	Data []byte
}

// Next is the input that advances an entity along its default path.
func Next() Input {
	return Input{Action: ActionNext}
}

// SUT is a stateful protocol driven by the harness. Implementations must be
// safe for concurrent use. For a given entity, Advance calls are serialized.
//
// Expected errors of Submit:
//   - InvalidPayloadError if the payload cannot be decoded or is inconsistent
//   - ReplayDetectedError if the payload repeats an already seen message
//
// Expected errors of Advance:
//   - ErrNotFound if no entity with the given id exists
//   - IllegalTransitionError if the action is not legal in the current state
//   - domain errors of the protocol, such as NonceCollisionError or ChainError
type SUT interface {
	// Submit registers a new entity for payload in its initial state.
	Submit(ctx context.Context, kind load.Kind, payload []byte) (EntityID, error)

	// Advance attempts the transition requested by input and returns the
	// resulting state. On a domain error the entity may still have moved to
	// a failure state, which is returned along with the error.
	Advance(ctx context.Context, id EntityID, input Input) (State, error)

	// CurrentState returns a read-only snapshot of the entity state.
	CurrentState(ctx context.Context, id EntityID) (State, error)
}
