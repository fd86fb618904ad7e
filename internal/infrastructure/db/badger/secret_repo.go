package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const secretStoreDir = "secrets"

type secretDTO struct {
	GameId string
	Secret []byte
}

type secretRepository struct {
	store *badgerhold.Store
}

func NewSecretRepository(config ...interface{}) (domain.SecretRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, secretStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	return &secretRepository{store}, nil
}

func (r *secretRepository) AddSecret(_ context.Context, gameId string, secret []byte) error {
	if gameId == "" {
		return fmt.Errorf("missing game id")
	}
	dto := secretDTO{GameId: gameId, Secret: secret}
	if err := r.store.Upsert(gameId, dto); err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}
	return nil
}

func (r *secretRepository) GetSecret(_ context.Context, gameId string) ([]byte, error) {
	var dto secretDTO
	if err := r.store.Get(gameId, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return dto.Secret, nil
}

func (r *secretRepository) DeleteSecret(_ context.Context, gameId string) error {
	if err := r.store.Delete(gameId, secretDTO{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.ErrSecretNotFound
		}
		return err
	}
	return nil
}

func (r *secretRepository) Close() {
	if err := r.store.Close(); err != nil {
		log.Errorf("failed to close secret store: %s", err)
	}
}
