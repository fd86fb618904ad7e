package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ArkLabsHQ/coinflip/internal/core/application"
	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/urfave/cli/v2"
)

type partyView struct {
	Pubkey        string `json:"pubkey"`
	ChangeAddress string `json:"changeAddress"`
	Funding       uint64 `json:"funding"`
	Revealed      bool   `json:"revealed,omitempty"`
}

type gameView struct {
	Id              string     `json:"id"`
	Status          string     `json:"status"`
	BetAmount       uint64     `json:"betAmount"`
	SetupExpiration int64      `json:"setupExpiration"`
	FinalExpiration int64      `json:"finalExpiration"`
	Creator         partyView  `json:"creator"`
	Player          *partyView `json:"player,omitempty"`
}

type envelopeView struct {
	Id         string `json:"id"`
	Recipient  string `json:"recipient,omitempty"`
	Expiration int64  `json:"expiration"`
	Data       string `json:"data"`
}

type updateView struct {
	Game     gameView      `json:"game"`
	Envelope *envelopeView `json:"envelope,omitempty"`
}

func newGameView(game *domain.Game) gameView {
	view := gameView{
		Id:              game.Id,
		Status:          game.Status.String(),
		BetAmount:       game.BetAmount,
		SetupExpiration: game.SetupExpiration,
		FinalExpiration: game.FinalExpiration,
		Creator:         newPartyView(game.Creator),
	}
	if len(game.Player.Pubkey) > 0 {
		player := newPartyView(game.Player)
		view.Player = &player
	}
	return view
}

func newPartyView(party domain.PlayerData) partyView {
	var funding uint64
	for _, in := range party.Vtxos {
		funding += in.Vtxo.Amount
	}
	return partyView{
		Pubkey:        hex.EncodeToString(party.Pubkey),
		ChangeAddress: party.ChangeAddress,
		Funding:       funding,
		Revealed:      len(party.RevealedSecret) > 0,
	}
}

func newUpdateView(update *application.GameUpdate) updateView {
	view := updateView{Game: newGameView(update.Game)}
	if envelope := update.Envelope; envelope != nil {
		view.Envelope = &envelopeView{
			Id:         envelope.Id,
			Recipient:  recipientOf(update),
			Expiration: envelope.Expiration,
			Data:       string(envelope.Data),
		}
	}
	return view
}

// recipientOf is the counterparty the envelope must be delivered to, empty
// for public announcements.
func recipientOf(update *application.GameUpdate) string {
	if update.Envelope.Event == nil {
		return ""
	}
	if update.Envelope.Event.GetType() == domain.EventTypeGameCreated {
		return ""
	}
	sender := update.Envelope.Sender
	game := update.Game
	role, ok := game.RoleOf(sender)
	if !ok {
		return ""
	}
	if role == domain.RoleCreator {
		return hex.EncodeToString(game.Player.Pubkey)
	}
	return hex.EncodeToString(game.Creator.Pubkey)
}

func parseSide(ctx *cli.Context) (application.Side, error) {
	side, ok := application.SideFromString(ctx.String(sideFlagName))
	if !ok {
		return 0, fmt.Errorf("invalid side %q, must be heads or tails", ctx.String(sideFlagName))
	}
	return side, nil
}

type gameCommand func(
	svc application.Service, ctx context.Context, gameId string,
) (*application.GameUpdate, error)

func gameUpdateAction(ctx *cli.Context, cmd gameCommand) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	update, err := cmd(svc, ctx.Context, ctx.String(gameIdFlagName))
	if err != nil {
		return err
	}
	return printJSON(newUpdateView(update))
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
