package sut

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// slot owns one entity and its guard. The guard is a channel with capacity
// one so that waiting for it can be abandoned when a context is cancelled.
type slot struct {
	guard  chan struct{}
	entity *Entity
}

func (s *slot) lock(ctx context.Context) error {
	select {
	case s.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) unlock() {
	<-s.guard
}

// Store maps entity ids to entities. Updates and reads of one entity are
// linearizable; operations on distinct entities never wait for each other.
// Entities are never removed while a run is in progress; Reset releases them
// at run teardown.
type Store struct {
	mu       sync.RWMutex
	entities map[EntityID]*slot
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		entities: make(map[EntityID]*slot),
		now:      time.Now,
	}
}

// Create registers a new entity in state initial and returns its id.
func (s *Store) Create(kind load.Kind, initial State, data Record) *Entity {
	id := EntityID(uuid.NewString())
	e, err := s.CreateWithID(id, kind, initial, data)
	if err != nil {
		// uuid collisions do not happen in practice
		panic(err)
	}
	return e
}

// CreateWithID registers a new entity under a caller chosen id. It fails when
// the id is already taken.
func (s *Store) CreateWithID(id EntityID, kind load.Kind, initial State, data Record) (*Entity, error) {
	e := &Entity{
		ID:        id,
		Kind:      kind,
		State:     initial,
		CreatedAt: s.now(),
		Data:      data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[id]; exists {
		return nil, fmt.Errorf("entity %s already exists", id)
	}
	s.entities[id] = &slot{
		guard:  make(chan struct{}, 1),
		entity: e,
	}
	return e.snapshot(), nil
}

func (s *Store) slot(id EntityID) (*slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return sl, nil
}

// Update runs fn with exclusive access to the entity. Changes fn made are kept
// even when it returns an error, which lets protocols move an entity into a
// failure state and report the cause in one step.
//
// Expected errors:
//   - ErrNotFound if the entity does not exist
//   - the context error if ctx was cancelled while waiting for the guard
//   - any error returned by fn
func (s *Store) Update(ctx context.Context, id EntityID, fn func(e *Entity) error) error {
	sl, err := s.slot(id)
	if err != nil {
		return err
	}
	err = sl.lock(ctx)
	if err != nil {
		return err
	}
	defer sl.unlock()

	return fn(sl.entity)
}

// Get returns a deep copy of the entity.
func (s *Store) Get(ctx context.Context, id EntityID) (*Entity, error) {
	var snapshot *Entity
	err := s.Update(ctx, id, func(e *Entity) error {
		snapshot = e.snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// State returns the current state of the entity.
func (s *Store) State(ctx context.Context, id EntityID) (State, error) {
	var state State
	err := s.Update(ctx, id, func(e *Entity) error {
		state = e.State
		return nil
	})
	return state, err
}

// Len returns the number of entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// IDs returns the ids of all entities in no particular order.
func (s *Store) IDs() []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	return ids
}

// Reset drops all entities. It must only be called when no operation is in
// flight, i.e. at run teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[EntityID]*slot)
}
