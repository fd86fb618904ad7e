package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ArkLabsHQ/coinflip/internal/core/application"
	"github.com/urfave/cli/v2"
)

var (
	infoCmd = &cli.Command{
		Name:   "info",
		Usage:  "Get the identity of the agent and the ledger it plays on",
		Action: infoAction,
	}
	balanceCmd = &cli.Command{
		Name:   "balance",
		Usage:  "Get the balance of the funding address",
		Action: balanceAction,
	}
	createCmd = &cli.Command{
		Name:   "create",
		Usage:  "Create a game and print its public announcement",
		Flags:  []cli.Flag{betFlag, sideFlag},
		Action: createAction,
	}
	joinCmd = &cli.Command{
		Name:   "join",
		Usage:  "Join an announced game",
		Flags:  []cli.Flag{gameIdFlag, sideFlag},
		Action: joinAction,
	}
	startSetupCmd = &cli.Command{
		Name:   "start-setup",
		Usage:  "Commit to the creator secret and sign the final tx",
		Flags:  []cli.Flag{gameIdFlag},
		Action: startSetupAction,
	}
	finalizeSetupCmd = &cli.Command{
		Name:   "finalize-setup",
		Usage:  "Sign the final tx and the player inputs of the setup tx",
		Flags:  []cli.Flag{gameIdFlag},
		Action: finalizeSetupAction,
	}
	finalizeCmd = &cli.Command{
		Name:   "finalize",
		Usage:  "Sign the creator inputs of the setup tx and submit the game",
		Flags:  []cli.Flag{gameIdFlag},
		Action: finalizeAction,
	}
	revealCmd = &cli.Command{
		Name:   "reveal",
		Usage:  "Reveal the player secret to the creator",
		Flags:  []cli.Flag{gameIdFlag},
		Action: revealAction,
	}
	resolveCmd = &cli.Command{
		Name:   "resolve",
		Usage:  "Claim the pot if the game is won",
		Flags:  []cli.Flag{gameIdFlag},
		Action: resolveAction,
	}
	abortCmd = &cli.Command{
		Name:   "abort",
		Usage:  "Reclaim the funds of an expired game",
		Flags:  []cli.Flag{gameIdFlag},
		Action: abortAction,
	}
	receiveCmd = &cli.Command{
		Name:      "receive",
		Usage:     "Process an envelope sent by the counterparty",
		ArgsUsage: "[envelope], read from stdin if omitted",
		Action:    receiveAction,
	}
	gameCmd = &cli.Command{
		Name:   "game",
		Usage:  "Get the state of a game",
		Flags:  []cli.Flag{gameIdFlag},
		Action: gameAction,
	}
	gamesCmd = &cli.Command{
		Name:   "games",
		Usage:  "List the known games",
		Action: gamesAction,
	}
	deleteCmd = &cli.Command{
		Name:   "delete",
		Usage:  "Delete a created game nobody joined yet",
		Flags:  []cli.Flag{gameIdFlag, envelopeIdFlag},
		Action: deleteAction,
	}
)

func infoAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	info, err := svc.GetInfo(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"pubkey":       info.Pubkey,
		"serverPubkey": info.ServerPubkey,
		"network":      info.Network,
		"address":      info.Address,
	})
}

func balanceAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	balance, err := svc.GetBalance(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"amount": balance.Amount,
		"vtxos":  balance.Vtxos,
	})
}

func createAction(ctx *cli.Context) error {
	side, err := parseSide(ctx)
	if err != nil {
		return err
	}
	svc, err := appService()
	if err != nil {
		return err
	}
	update, err := svc.CreateGame(ctx.Context, ctx.Uint64(betFlagName), side)
	if err != nil {
		return err
	}
	return printJSON(newUpdateView(update))
}

func joinAction(ctx *cli.Context) error {
	side, err := parseSide(ctx)
	if err != nil {
		return err
	}
	svc, err := appService()
	if err != nil {
		return err
	}
	update, err := svc.JoinGame(ctx.Context, ctx.String(gameIdFlagName), side)
	if err != nil {
		return err
	}
	return printJSON(newUpdateView(update))
}

func startSetupAction(ctx *cli.Context) error {
	return gameUpdateAction(ctx, application.Service.StartSetup)
}

func finalizeSetupAction(ctx *cli.Context) error {
	return gameUpdateAction(ctx, application.Service.FinalizeSetup)
}

func finalizeAction(ctx *cli.Context) error {
	return gameUpdateAction(ctx, application.Service.Finalize)
}

func revealAction(ctx *cli.Context) error {
	return gameUpdateAction(ctx, application.Service.RevealSecret)
}

func resolveAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	settlement, err := svc.Resolve(ctx.Context, ctx.String(gameIdFlagName))
	if err != nil {
		return err
	}
	view := map[string]string{"status": settlement.Status.String()}
	if settlement.Status != application.SettlementNotYetResolvable {
		view["winner"] = settlement.Winner.String()
	}
	if settlement.Txid != "" {
		view["txid"] = settlement.Txid
	}
	return printJSON(view)
}

func abortAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	txid, err := svc.Abort(ctx.Context, ctx.String(gameIdFlagName))
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"txid": txid})
}

func receiveAction(ctx *cli.Context) error {
	data := []byte(ctx.Args().First())
	if len(data) == 0 {
		buf, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read envelope: %s", err)
		}
		data = buf
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return fmt.Errorf("missing envelope")
	}

	svc, err := appService()
	if err != nil {
		return err
	}
	game, err := svc.HandleEnvelope(ctx.Context, data)
	if err != nil {
		return err
	}
	if game == nil {
		return printJSON(map[string]string{"status": "ignored"})
	}
	return printJSON(newGameView(game))
}

func gameAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	game, err := svc.GetGame(ctx.Context, ctx.String(gameIdFlagName))
	if err != nil {
		return err
	}
	return printJSON(newGameView(game))
}

func gamesAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	games, err := svc.ListGames(ctx.Context)
	if err != nil {
		return err
	}
	views := make([]gameView, 0, len(games))
	for _, game := range games {
		views = append(views, newGameView(game))
	}
	return printJSON(views)
}

func deleteAction(ctx *cli.Context) error {
	svc, err := appService()
	if err != nil {
		return err
	}
	update, err := svc.DeleteGame(
		ctx.Context, ctx.String(gameIdFlagName), ctx.String(envelopeIdFlagName),
	)
	if err != nil {
		return err
	}
	return printJSON(newUpdateView(update))
}
