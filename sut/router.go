package sut

import (
	"context"
	"fmt"
	"sync"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// Router dispatches calls to the SUT registered for the item kind. Entity
// ids are remembered at Submit so Advance and CurrentState find their owner.
type Router struct {
	byKind map[load.Kind]SUT

	mu     sync.RWMutex
	owners map[EntityID]SUT
}

var _ SUT = (*Router)(nil)

func NewRouter() *Router {
	return &Router{
		byKind: make(map[load.Kind]SUT),
		owners: make(map[EntityID]SUT),
	}
}

// Register routes kind to s. Not concurrency safe; register all kinds before use.
func (r *Router) Register(kind load.Kind, s SUT) *Router {
	r.byKind[kind] = s
	return r
}

// Kinds returns the registered kinds.
func (r *Router) Kinds() []load.Kind {
	kinds := make([]load.Kind, 0, len(r.byKind))
	for _, k := range load.AllKinds() {
		if _, ok := r.byKind[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (r *Router) Submit(ctx context.Context, kind load.Kind, payload []byte) (EntityID, error) {
	s, ok := r.byKind[kind]
	if !ok {
		return "", NewInvalidPayloadErrorf("no protocol registered for kind %s", kind)
	}
	id, err := s.Submit(ctx, kind, payload)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.owners[id] = s
	r.mu.Unlock()
	return id, nil
}

func (r *Router) owner(id EntityID) (SUT, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.owners[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (r *Router) Advance(ctx context.Context, id EntityID, input Input) (State, error) {
	s, err := r.owner(id)
	if err != nil {
		return State{}, err
	}
	return s.Advance(ctx, id, input)
}

func (r *Router) CurrentState(ctx context.Context, id EntityID) (State, error) {
	s, err := r.owner(id)
	if err != nil {
		return State{}, err
	}
	return s.CurrentState(ctx, id)
}

// Reset forgets all routed entities. Call at run teardown only.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = make(map[EntityID]SUT)
}
