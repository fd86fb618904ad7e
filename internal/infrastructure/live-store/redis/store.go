package redislivestore

import (
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

type redisLiveStore struct {
	envelopeStore    ports.EnvelopeStore
	deletedGameStore ports.DeletedGameStore
}

// NewLiveStore returns a live store whose keys are namespaced by the given
// prefix, so that several agents can share the same redis instance.
func NewLiveStore(rdb *redis.Client, prefix string) ports.LiveStore {
	return &redisLiveStore{
		envelopeStore:    NewEnvelopeStore(rdb, prefix),
		deletedGameStore: NewDeletedGameStore(rdb, prefix),
	}
}

func (s *redisLiveStore) Envelopes() ports.EnvelopeStore       { return s.envelopeStore }
func (s *redisLiveStore) DeletedGames() ports.DeletedGameStore { return s.deletedGameStore }
