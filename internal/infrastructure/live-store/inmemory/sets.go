package inmemorylivestore

import (
	"sync"

	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
)

type set struct {
	lock  sync.RWMutex
	items map[string]struct{}
}

func newSet() *set {
	return &set{items: make(map[string]struct{})}
}

func (s *set) add(item string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.items[item]; ok {
		return false
	}
	s.items[item] = struct{}{}
	return true
}

func (s *set) includes(item string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	_, ok := s.items[item]
	return ok
}

type envelopeStore struct {
	seen *set
}

func NewEnvelopeStore() ports.EnvelopeStore {
	return &envelopeStore{newSet()}
}

func (s *envelopeStore) Add(id string) bool {
	return s.seen.add(id)
}

func (s *envelopeStore) Includes(id string) bool {
	return s.seen.includes(id)
}

type deletedGameStore struct {
	deleted *set
}

func NewDeletedGameStore() ports.DeletedGameStore {
	return &deletedGameStore{newSet()}
}

func (s *deletedGameStore) Add(gameId string) {
	s.deleted.add(gameId)
}

func (s *deletedGameStore) Includes(gameId string) bool {
	return s.deleted.includes(gameId)
}
