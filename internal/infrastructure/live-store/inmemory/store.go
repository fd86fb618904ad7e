package inmemorylivestore

import (
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
)

type inMemoryLiveStore struct {
	envelopeStore    ports.EnvelopeStore
	deletedGameStore ports.DeletedGameStore
}

func NewLiveStore() ports.LiveStore {
	return &inMemoryLiveStore{
		envelopeStore:    NewEnvelopeStore(),
		deletedGameStore: NewDeletedGameStore(),
	}
}

func (s *inMemoryLiveStore) Envelopes() ports.EnvelopeStore {
	return s.envelopeStore
}
func (s *inMemoryLiveStore) DeletedGames() ports.DeletedGameStore {
	return s.deletedGameStore
}
