package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ArkLabsHQ/coinflip/internal/config"
	"github.com/ArkLabsHQ/coinflip/internal/core/application"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// Version will be set during build time
var Version string

var cfg *config.Config

func before(_ *cli.Context) error {
	c, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(c.LogLevel))

	if c.PrivateKey == "" {
		key, err := readPrivateKey()
		if err != nil {
			return err
		}
		c.PrivateKey = key
	}
	if err := c.Validate(); err != nil {
		c.Close()
		return fmt.Errorf("invalid config: %s", err)
	}

	log.Debugf("coinflip config: %s", c)
	cfg = c
	return nil
}

func after(_ *cli.Context) error {
	if cfg != nil {
		cfg.Close()
	}
	return nil
}

func appService() (application.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return cfg.AppService()
}

func readPrivateKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("missing private key, set COINFLIP_PRIVATE_KEY")
	}
	fmt.Fprint(os.Stderr, "private key (hex): ")
	buf, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %s", err)
	}
	return strings.TrimSpace(string(buf)), nil
}

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "coinflip"
	app.Usage = "play a two-party coin flip over Ark vtxos"
	app.UsageText = "coinflip [global options] command [command options]\n" +
		"Envelopes printed by a command must be delivered to the counterparty, " +
		"who passes them to:\n\tcoinflip receive <envelope>"
	app.Commands = append(
		app.Commands,
		infoCmd,
		balanceCmd,
		createCmd,
		joinCmd,
		startSetupCmd,
		finalizeSetupCmd,
		finalizeCmd,
		revealCmd,
		resolveCmd,
		abortCmd,
		receiveCmd,
		gameCmd,
		gamesCmd,
		deleteCmd,
	)
	app.Before = before
	app.After = after

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
