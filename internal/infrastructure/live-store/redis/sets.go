package redislivestore

import (
	"context"
	"fmt"

	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	envelopesSetKey    = "envelopeStore:seen"
	deletedGamesSetKey = "deletedGameStore:games"
)

type envelopeStore struct {
	rdb *redis.Client
	key string
}

func NewEnvelopeStore(rdb *redis.Client, prefix string) ports.EnvelopeStore {
	return &envelopeStore{rdb: rdb, key: prefixed(prefix, envelopesSetKey)}
}

func (s *envelopeStore) Add(id string) bool {
	ctx := context.Background()
	added, err := s.rdb.SAdd(ctx, s.key, id).Result()
	if err != nil {
		// an envelope handled twice is harmless, one never handled is not
		log.WithError(err).Warn("failed to mark envelope as seen")
		return true
	}
	return added > 0
}

func (s *envelopeStore) Includes(id string) bool {
	ctx := context.Background()
	exists, _ := s.rdb.SIsMember(ctx, s.key, id).Result()
	return exists
}

type deletedGameStore struct {
	rdb *redis.Client
	key string
}

func NewDeletedGameStore(rdb *redis.Client, prefix string) ports.DeletedGameStore {
	return &deletedGameStore{rdb: rdb, key: prefixed(prefix, deletedGamesSetKey)}
}

func (s *deletedGameStore) Add(gameId string) {
	ctx := context.Background()
	if err := s.rdb.SAdd(ctx, s.key, gameId).Err(); err != nil {
		log.WithError(err).Warnf("failed to mark game %s as deleted", gameId)
	}
}

func (s *deletedGameStore) Includes(gameId string) bool {
	ctx := context.Background()
	exists, _ := s.rdb.SIsMember(ctx, s.key, gameId).Result()
	return exists
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", prefix, key)
}
