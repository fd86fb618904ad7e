package application

import (
	"context"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
)

type Service interface {
	GetInfo(ctx context.Context) (*ServiceInfo, error)
	GetBalance(ctx context.Context) (*Balance, error)
	ListVtxos(ctx context.Context) ([]domain.Vtxo, error)
	// Game commands, each returns the envelope to hand to the transport.
	CreateGame(ctx context.Context, betAmount uint64, side Side) (*GameUpdate, error)
	JoinGame(ctx context.Context, gameId string, side Side) (*GameUpdate, error)
	StartSetup(ctx context.Context, gameId string) (*GameUpdate, error)
	FinalizeSetup(ctx context.Context, gameId string) (*GameUpdate, error)
	Finalize(ctx context.Context, gameId string) (*GameUpdate, error)
	RevealSecret(ctx context.Context, gameId string) (*GameUpdate, error)
	Resolve(ctx context.Context, gameId string) (*Settlement, error)
	Abort(ctx context.Context, gameId string) (string, error)
	DeleteGame(ctx context.Context, gameId, envelopeId string) (*GameUpdate, error)
	// HandleEnvelope opens an envelope received from the transport and folds
	// its content. The returned game is nil if the envelope was ignored. An
	// envelope is marked as handled only once its content is stored.
	HandleEnvelope(ctx context.Context, data []byte) (*domain.Game, error)
	HandleEvent(ctx context.Context, event domain.Event) (*domain.Game, error)
	GetGame(ctx context.Context, gameId string) (*domain.Game, error)
	ListGames(ctx context.Context) ([]*domain.Game, error)
	Close()
}

type ServiceInfo struct {
	Pubkey       string
	ServerPubkey string
	Network      string
	Address      string
}

type Balance struct {
	Amount uint64
	Vtxos  int
}

type GameUpdate struct {
	Game     *domain.Game
	Envelope *ports.Envelope
}

// Side is the choice of a party, encoded by the length of its secret.
type Side int

const (
	SideHeads Side = iota
	SideTails
)

func (s Side) String() string {
	if s == SideTails {
		return "tails"
	}
	return "heads"
}

func (s Side) secretLength() int {
	if s == SideTails {
		return domain.SecretLengthTails
	}
	return domain.SecretLengthHeads
}

func SideFromString(side string) (Side, bool) {
	switch side {
	case "heads":
		return SideHeads, true
	case "tails":
		return SideTails, true
	default:
		return 0, false
	}
}
