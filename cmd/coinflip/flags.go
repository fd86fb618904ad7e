package main

import "github.com/urfave/cli/v2"

const (
	betFlagName        = "bet"
	sideFlagName       = "side"
	gameIdFlagName     = "id"
	envelopeIdFlagName = "envelope-id"
)

var (
	betFlag = &cli.Uint64Flag{
		Name:     betFlagName,
		Usage:    "amount in satoshis each party bets",
		Required: true,
	}
	sideFlag = &cli.StringFlag{
		Name:  sideFlagName,
		Usage: "the side chosen, heads or tails",
		Value: "heads",
	}
	gameIdFlag = &cli.StringFlag{
		Name:     gameIdFlagName,
		Usage:    "id of the game",
		Required: true,
	}
	envelopeIdFlag = &cli.StringFlag{
		Name:  envelopeIdFlagName,
		Usage: "id of the public announcement envelope of the game to retract",
	}
)
