package domain

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

const (
	GameStatusUnknown GameStatus = iota
	GameStatusCreated
	GameStatusJoined
	GameStatusSetupStarted
	GameStatusSetupFinalized
	GameStatusFinalized
	GameStatusResolved
)

type GameStatus int

func (s GameStatus) String() string {
	switch s {
	case GameStatusCreated:
		return "CREATED"
	case GameStatusJoined:
		return "JOINED"
	case GameStatusSetupStarted:
		return "SETUP_STARTED"
	case GameStatusSetupFinalized:
		return "SETUP_FINALIZED"
	case GameStatusFinalized:
		return "FINALIZED"
	case GameStatusResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

type Role int

const (
	RoleCreator Role = iota
	RolePlayer
)

func (r Role) String() string {
	if r == RolePlayer {
		return "player"
	}
	return "creator"
}

// PlayerData is what is known about one party, fields are filled as events
// are folded.
type PlayerData struct {
	Pubkey            []byte
	Hash              []byte
	Vtxos             []VtxoInput
	ChangeAddress     string
	SetupTxSignatures [][]byte
	FinalTxSignature  []byte
	RevealedSecret    []byte
}

// Game is the projection of a set of game events. Folding is commutative
// and idempotent so the same set of events gives the same Game whatever the
// order or the number of duplicates.
type Game struct {
	Id              string
	Status          GameStatus
	ServerPubkey    []byte
	BetAmount       uint64
	SetupExpiration int64
	FinalExpiration int64
	Creator         PlayerData
	Player          PlayerData
}

func NewGame() *Game {
	return &Game{}
}

func NewGameFromEvents(events []Event) (*Game, error) {
	g := NewGame()
	for _, event := range events {
		if err := g.Apply(event); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Apply folds the event into the game. Nothing is written if the event is
// invalid or belongs to another game.
func (g *Game) Apply(event Event) error {
	if event == nil {
		return invalidf("event", "missing")
	}
	if err := event.validate(); err != nil {
		return err
	}
	if g.Id != "" && event.GetGameId() != g.Id {
		return invalid("gameId", fmt.Errorf(
			"%w: expected %s, got %s", ErrGameIdMismatch, g.Id, event.GetGameId(),
		))
	}

	g.on(event)
	return nil
}

func (g *Game) PotAmount() uint64 {
	return 2 * g.BetAmount
}

func (g *Game) IsFinalized() bool {
	return g.Status >= GameStatusFinalized
}

// RoleOf returns the role of the given x-only pubkey in the game.
func (g *Game) RoleOf(pubkey []byte) (Role, bool) {
	switch {
	case len(g.Creator.Pubkey) > 0 && bytes.Equal(g.Creator.Pubkey, pubkey):
		return RoleCreator, true
	case len(g.Player.Pubkey) > 0 && bytes.Equal(g.Player.Pubkey, pubkey):
		return RolePlayer, true
	default:
		return 0, false
	}
}

func (g *Game) Party(role Role) PlayerData {
	if role == RolePlayer {
		return g.Player
	}
	return g.Creator
}

// Create opens a new game funded by the creator.
func (g *Game) Create(
	creatorPubkey []byte, creatorVtxos []VtxoInput, changeAddress string,
	betAmount uint64, serverPubkey []byte, setupExpiration, finalExpiration int64,
) (Event, error) {
	if g.Status != GameStatusUnknown {
		return nil, invalid("status", fmt.Errorf("%w to create game", ErrInvalidStage))
	}
	if sumVtxoInputs(creatorVtxos) < betAmount {
		return nil, &InsufficientFundsError{
			Party:   RoleCreator,
			Funded:  sumVtxoInputs(creatorVtxos),
			Missing: betAmount - sumVtxoInputs(creatorVtxos),
		}
	}

	event := GameCreated{
		GameEvent: GameEvent{
			Id:   uuid.New().String(),
			Type: EventTypeGameCreated,
		},
		CreatorPubkey:        creatorPubkey,
		CreatorVtxos:         creatorVtxos,
		CreatorChangeAddress: changeAddress,
		BetAmount:            betAmount,
		ServerPubkey:         xOnly(serverPubkey),
		SetupExpiration:      setupExpiration,
		FinalExpiration:      finalExpiration,
	}
	if err := g.Apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Join commits the player's funds and the hash of its secret.
func (g *Game) Join(
	playerPubkey []byte, playerVtxos []VtxoInput, changeAddress string, playerHash []byte,
) (Event, error) {
	if g.Status != GameStatusCreated {
		return nil, invalid("status", fmt.Errorf("%w to join game", ErrInvalidStage))
	}
	if bytes.Equal(playerPubkey, g.Creator.Pubkey) {
		return nil, invalidf("playerPubkey", "creator cannot join its own game")
	}
	if sumVtxoInputs(playerVtxos) < g.BetAmount {
		return nil, &InsufficientFundsError{
			Party:   RolePlayer,
			Funded:  sumVtxoInputs(playerVtxos),
			Missing: g.BetAmount - sumVtxoInputs(playerVtxos),
		}
	}

	event := GameJoined{
		GameEvent: GameEvent{
			Id:   g.Id,
			Type: EventTypeGameJoined,
		},
		PlayerPubkey:        playerPubkey,
		PlayerVtxos:         playerVtxos,
		PlayerChangeAddress: changeAddress,
		PlayerHash:          playerHash,
	}
	if err := g.Apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// StartSetup commits the creator's hash along with its signature of the
// final tx.
func (g *Game) StartSetup(creatorHash, creatorFinalSignature []byte) (Event, error) {
	if g.Status != GameStatusJoined {
		return nil, invalid("status", fmt.Errorf("%w to start setup", ErrInvalidStage))
	}

	event := SetupStarted{
		GameEvent: GameEvent{
			Id:   g.Id,
			Type: EventTypeSetupStarted,
		},
		CreatorHash:           creatorHash,
		CreatorFinalSignature: creatorFinalSignature,
	}
	if err := g.Apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// FinalizeSetup carries the player's signatures of the final tx and of its
// inputs of the setup tx.
func (g *Game) FinalizeSetup(
	playerFinalSignature []byte, playerSetupSignatures [][]byte,
) (Event, error) {
	if g.Status != GameStatusSetupStarted {
		return nil, invalid("status", fmt.Errorf("%w to finalize setup", ErrInvalidStage))
	}
	if len(playerSetupSignatures) != len(g.Player.Vtxos) {
		return nil, invalidf(
			"playerSetupSignatures", "expected %d signatures, got %d",
			len(g.Player.Vtxos), len(playerSetupSignatures),
		)
	}

	event := SetupFinalized{
		GameEvent: GameEvent{
			Id:   g.Id,
			Type: EventTypeSetupFinalized,
		},
		PlayerFinalSignature:  playerFinalSignature,
		PlayerSetupSignatures: toHexBytes(playerSetupSignatures),
	}
	if err := g.Apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Finalize carries the creator's signatures of its inputs of the setup tx.
func (g *Game) Finalize(creatorSetupSignatures [][]byte) (Event, error) {
	if g.Status != GameStatusSetupFinalized {
		return nil, invalid("status", fmt.Errorf("%w to finalize game", ErrInvalidStage))
	}
	if len(creatorSetupSignatures) != len(g.Creator.Vtxos) {
		return nil, invalidf(
			"creatorSetupSignatures", "expected %d signatures, got %d",
			len(g.Creator.Vtxos), len(creatorSetupSignatures),
		)
	}

	event := GameFinalized{
		GameEvent: GameEvent{
			Id:   g.Id,
			Type: EventTypeGameFinalized,
		},
		CreatorSetupSignatures: toHexBytes(creatorSetupSignatures),
	}
	if err := g.Apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Resolve reveals the player's secret.
func (g *Game) Resolve(playerSecret []byte) (Event, error) {
	if g.Status < GameStatusFinalized {
		return nil, invalid("status", ErrGameNotFinalized)
	}
	hash := sha256.Sum256(playerSecret)
	if !bytes.Equal(hash[:], g.Player.Hash) {
		return nil, invalid("playerSecret", ErrSecretMismatch)
	}

	event := GameResolved{
		GameEvent: GameEvent{
			Id:   g.Id,
			Type: EventTypeGameResolved,
		},
		PlayerSecret: playerSecret,
	}
	if err := g.Apply(event); err != nil {
		return nil, err
	}
	return event, nil
}

func (g *Game) on(event Event) {
	switch e := event.(type) {
	case GameCreated:
		g.Creator.Pubkey = e.CreatorPubkey
		g.Creator.Vtxos = e.CreatorVtxos
		g.Creator.ChangeAddress = e.CreatorChangeAddress
		g.BetAmount = e.BetAmount
		g.ServerPubkey = xOnly(e.ServerPubkey)
		g.SetupExpiration = e.SetupExpiration
		g.FinalExpiration = e.FinalExpiration
	case GameJoined:
		g.Player.Pubkey = e.PlayerPubkey
		g.Player.Vtxos = e.PlayerVtxos
		g.Player.ChangeAddress = e.PlayerChangeAddress
		g.Player.Hash = e.PlayerHash
	case SetupStarted:
		g.Creator.Hash = e.CreatorHash
		g.Creator.FinalTxSignature = e.CreatorFinalSignature
	case SetupFinalized:
		g.Player.FinalTxSignature = e.PlayerFinalSignature
		g.Player.SetupTxSignatures = fromHexBytes(e.PlayerSetupSignatures)
	case GameFinalized:
		g.Creator.SetupTxSignatures = fromHexBytes(e.CreatorSetupSignatures)
	case GameResolved:
		g.Player.RevealedSecret = e.PlayerSecret
	}

	g.Id = event.GetGameId()
	if status := event.impliedStatus(); status > g.Status {
		g.Status = status
	}
}

func toHexBytes(list [][]byte) []HexBytes {
	out := make([]HexBytes, 0, len(list))
	for _, b := range list {
		out = append(out, b)
	}
	return out
}

func fromHexBytes(list []HexBytes) [][]byte {
	out := make([][]byte, 0, len(list))
	for _, b := range list {
		out = append(out, b)
	}
	return out
}
