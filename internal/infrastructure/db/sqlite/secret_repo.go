package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
)

type secretRepository struct {
	db *sql.DB
}

func NewSecretRepository(config ...interface{}) (domain.SecretRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open secret repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &secretRepository{db}, nil
}

func (r *secretRepository) AddSecret(ctx context.Context, gameId string, secret []byte) error {
	if gameId == "" {
		return fmt.Errorf("missing game id")
	}
	if _, err := r.db.ExecContext(
		ctx,
		`INSERT INTO game_secret (game_id, secret) VALUES (?, ?)
		ON CONFLICT(game_id) DO UPDATE SET secret = EXCLUDED.secret`,
		gameId, secret,
	); err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}
	return nil
}

func (r *secretRepository) GetSecret(ctx context.Context, gameId string) ([]byte, error) {
	var secret []byte
	err := r.db.QueryRowContext(
		ctx, `SELECT secret FROM game_secret WHERE game_id = ?`, gameId,
	).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return secret, nil
}

func (r *secretRepository) DeleteSecret(ctx context.Context, gameId string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM game_secret WHERE game_id = ?`, gameId)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrSecretNotFound
	}
	return nil
}

func (r *secretRepository) Close() {
	_ = r.db.Close()
}
