package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
)

type eventRepository struct {
	db *sql.DB
}

func NewGameEventRepository(config ...interface{}) (domain.GameEventRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open game event repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &eventRepository{db}, nil
}

func (r *eventRepository) Save(ctx context.Context, events ...domain.Event) error {
	txBody := func(tx *sql.Tx) error {
		now := time.Now().UnixNano()
		for _, event := range events {
			data, err := domain.EncodeEvent(event)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO game_event (game_id, type, data, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(game_id, type) DO UPDATE SET data = EXCLUDED.data`,
				event.GetGameId(), string(event.GetType()), data, now,
			); err != nil {
				return fmt.Errorf("failed to upsert %s event: %w", event.GetType(), err)
			}
		}
		return nil
	}

	return execTx(ctx, r.db, txBody)
}

func (r *eventRepository) Load(ctx context.Context, gameId string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT type, data FROM game_event WHERE game_id = ? ORDER BY created_at, type`,
		gameId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var eventType string
		var data []byte
		if err := rows.Scan(&eventType, &data); err != nil {
			return nil, err
		}
		event, err := domain.DecodeEvent(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s event of game %s: %w", eventType, gameId, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *eventRepository) ListGameIds(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT game_id FROM game_event GROUP BY game_id ORDER BY MIN(created_at), game_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *eventRepository) Delete(ctx context.Context, gameId string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM game_event WHERE game_id = ?`, gameId)
	return err
}

func (r *eventRepository) Close() {
	_ = r.db.Close()
}

func execTx(ctx context.Context, db *sql.DB, txBody func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := txBody(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction: %w", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
