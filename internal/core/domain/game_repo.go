package domain

import (
	"context"
	"errors"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrSecretNotFound = errors.New("secret not found")
)

// GameEventRepository persists the events of every game. Events are keyed by
// game id and type, saving an event twice replaces it.
type GameEventRepository interface {
	Save(ctx context.Context, events ...Event) error
	Load(ctx context.Context, gameId string) ([]Event, error)
	ListGameIds(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, gameId string) error
	Close()
}

// SecretRepository persists the local party's secret of every game.
type SecretRepository interface {
	AddSecret(ctx context.Context, gameId string, secret []byte) error
	GetSecret(ctx context.Context, gameId string) ([]byte, error)
	DeleteSecret(ctx context.Context, gameId string) error
	Close()
}
