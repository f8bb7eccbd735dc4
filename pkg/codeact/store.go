package codeact

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Factory builds a machine. The store passes the per-conversation options.
type Factory func(opts ...Option) (*Machine, error)

// Store keeps the live conversations of a process, keyed by id.
type Store struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	factory  Factory
}

func NewStore(factory Factory) *Store {
	return &Store{
		machines: map[string]*Machine{},
		factory:  factory,
	}
}

func (s *Store) Create(opts ...Option) (*Machine, error) {
	m, err := s.factory(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create conversation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.machines[m.ID()]; ok {
		_ = m.Close()
		return nil, errors.Errorf("conversation %s already exists", m.ID())
	}
	s.machines[m.ID()] = m
	return m, nil
}

func (s *Store) Get(id string) (*Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownConversation, id)
	}
	return m, nil
}

// List returns the snapshots of all conversations, oldest first.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	machines := make([]*Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.RUnlock()

	ret := make([]Snapshot, 0, len(machines))
	for _, m := range machines {
		ret = append(ret, m.Snapshot())
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Delete closes and forgets a conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	m, ok := s.machines[id]
	delete(s.machines, id)
	s.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownConversation, id)
	}
	return m.Close()
}

// Close closes every conversation.
func (s *Store) Close() error {
	s.mu.Lock()
	machines := s.machines
	s.machines = map[string]*Machine{}
	s.mu.Unlock()

	var eg errgroup.Group
	for _, m := range machines {
		m := m
		eg.Go(m.Close)
	}
	return eg.Wait()
}
