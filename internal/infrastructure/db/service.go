package db

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	badgerdb "github.com/ArkLabsHQ/coinflip/internal/infrastructure/db/badger"
	sqlitedb "github.com/ArkLabsHQ/coinflip/internal/infrastructure/db/sqlite"
)

const sqliteDbFile = "sqlite.db"

var (
	eventStoreTypes = map[string]func(...interface{}) (domain.GameEventRepository, error){
		"badger": badgerdb.NewGameEventRepository,
		"sqlite": sqlitedb.NewGameEventRepository,
	}
	secretStoreTypes = map[string]func(...interface{}) (domain.SecretRepository, error){
		"badger": badgerdb.NewSecretRepository,
		"sqlite": sqlitedb.NewSecretRepository,
	}
)

// ServiceConfig selects the store of game events and of secrets. Badger
// stores expect [baseDir string, logger badger.Logger], sqlite ones expect
// [baseDir string] and share the same db file.
type ServiceConfig struct {
	EventStoreType    string
	SecretStoreType   string
	EventStoreConfig  []interface{}
	SecretStoreConfig []interface{}
}

type service struct {
	eventStore  domain.GameEventRepository
	secretStore domain.SecretRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("event store type not supported")
	}
	secretStoreFactory, ok := secretStoreTypes[config.SecretStoreType]
	if !ok {
		return nil, fmt.Errorf("secret store type not supported")
	}

	var sqliteDb *sql.DB
	openSqlite := func(storeConfig []interface{}) ([]interface{}, error) {
		if sqliteDb != nil {
			return []interface{}{sqliteDb}, nil
		}
		if len(storeConfig) != 1 {
			return nil, fmt.Errorf("invalid sqlite config: expected base directory")
		}
		baseDir, ok := storeConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid sqlite config: base directory must be a string")
		}
		db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite db: %w", err)
		}
		sqliteDb = db
		return []interface{}{db}, nil
	}

	eventStoreConfig := config.EventStoreConfig
	if config.EventStoreType == "sqlite" {
		storeConfig, err := openSqlite(eventStoreConfig)
		if err != nil {
			return nil, err
		}
		eventStoreConfig = storeConfig
	}
	eventStore, err := eventStoreFactory(eventStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}

	secretStoreConfig := config.SecretStoreConfig
	if config.SecretStoreType == "sqlite" {
		storeConfig, err := openSqlite(secretStoreConfig)
		if err != nil {
			eventStore.Close()
			return nil, err
		}
		secretStoreConfig = storeConfig
	}
	secretStore, err := secretStoreFactory(secretStoreConfig...)
	if err != nil {
		eventStore.Close()
		return nil, fmt.Errorf("failed to open secret store: %s", err)
	}

	return &service{eventStore, secretStore}, nil
}

func (s *service) Events() domain.GameEventRepository {
	return s.eventStore
}

func (s *service) Secrets() domain.SecretRepository {
	return s.secretStore
}

func (s *service) Close() {
	s.eventStore.Close()
	s.secretStore.Close()
}
