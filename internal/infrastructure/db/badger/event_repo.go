package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const eventStoreDir = "events"

type eventDTO struct {
	GameId    string `badgerhold:"index"`
	Type      string
	Data      []byte
	CreatedAt int64
}

type eventRepository struct {
	store *badgerhold.Store
}

func NewGameEventRepository(config ...interface{}) (domain.GameEventRepository, error) {
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
		dir = filepath.Join(baseDir, eventStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open game events store: %s", err)
	}

	return &eventRepository{store}, nil
}

func (r *eventRepository) Save(ctx context.Context, events ...domain.Event) error {
	dtos := make(map[string]eventDTO, len(events))
	now := time.Now().UnixNano()
	for _, event := range events {
		data, err := domain.EncodeEvent(event)
		if err != nil {
			return err
		}
		dtos[eventKey(event)] = eventDTO{
			GameId:    event.GetGameId(),
			Type:      string(event.GetType()),
			Data:      data,
			CreatedAt: now,
		}
	}

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.upsertEvents(tx, dtos)
	}
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		return r.upsertEvents(tx, dtos)
	})
}

func (r *eventRepository) Load(ctx context.Context, gameId string) ([]domain.Event, error) {
	dtos, err := r.findEvents(ctx, badgerhold.Where("GameId").Eq(gameId).Index("GameId"))
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(dtos))
	for _, dto := range dtos {
		event, err := domain.DecodeEvent(dto.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s event of game %s: %w", dto.Type, gameId, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *eventRepository) ListGameIds(ctx context.Context) ([]string, error) {
	dtos, err := r.findEvents(ctx, nil)
	if err != nil {
		return nil, err
	}

	firstSeen := make(map[string]int64)
	for _, dto := range dtos {
		if ts, ok := firstSeen[dto.GameId]; !ok || dto.CreatedAt < ts {
			firstSeen[dto.GameId] = dto.CreatedAt
		}
	}
	ids := make([]string, 0, len(firstSeen))
	for id := range firstSeen {
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if firstSeen[ids[i]] == firstSeen[ids[j]] {
			return ids[i] < ids[j]
		}
		return firstSeen[ids[i]] < firstSeen[ids[j]]
	})
	return ids, nil
}

func (r *eventRepository) Delete(ctx context.Context, gameId string) error {
	query := badgerhold.Where("GameId").Eq(gameId).Index("GameId")
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxDeleteMatching(tx, &eventDTO{}, query)
	}
	return r.store.DeleteMatching(&eventDTO{}, query)
}

func (r *eventRepository) Close() {
	if err := r.store.Close(); err != nil {
		log.Errorf("failed to close game events store: %s", err)
	}
}

func (r *eventRepository) upsertEvents(tx *badger.Txn, dtos map[string]eventDTO) error {
	for key, dto := range dtos {
		if err := r.store.TxUpsert(tx, key, dto); err != nil {
			if errors.Is(err, badger.ErrConflict) {
				return fmt.Errorf("concurrent write of event %s: %w", key, err)
			}
			return err
		}
	}
	return nil
}

func (r *eventRepository) findEvents(
	ctx context.Context, query *badgerhold.Query,
) ([]eventDTO, error) {
	var dtos []eventDTO
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &dtos, query)
	} else {
		err = r.store.Find(&dtos, query)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(dtos, func(i, j int) bool {
		return dtos[i].CreatedAt < dtos[j].CreatedAt
	})
	return dtos, nil
}

// one event per type and game, a later save replaces the stored one
func eventKey(event domain.Event) string {
	return fmt.Sprintf("%s/%s", event.GetGameId(), event.GetType())
}
