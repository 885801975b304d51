package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-p2p/internal/config"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/badger"
	"github.com/urfave/cli/v2"
)

var (
	defaultDatadir = btcutil.AppDataDir("tdex-p2p", false)

	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "the data directory of the node, the node must not be running",
		Value:   defaultDatadir,
		EnvVars: []string{"TDEXP2P_DATADIR"},
	}
)

func main() {
	log.SetLevel(log.WarnLevel)

	app := cli.NewApp()
	app.Version = "0.1.0"
	app.Name = "tradectl"
	app.Usage = "Command line interface to inspect the trades store of a tdex-p2p node"
	app.Flags = []cli.Flag{datadirFlag}
	app.Commands = append(
		app.Commands,
		&trades,
		&mailbox,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func openRepoManager(ctx *cli.Context) (ports.RepoManager, error) {
	dbDir := filepath.Join(ctx.String(datadirFlag.Name), config.DbLocation)
	if _, err := os.Stat(dbDir); err != nil {
		return nil, fmt.Errorf("db not found in %s", dbDir)
	}
	return dbbadger.NewRepoManager(dbDir, dbbadger.NewLogger("tradectl"))
}

func printRespJSON(resp interface{}) {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Println("unable to decode response: ", err)
		return
	}
	fmt.Println(string(jsonBytes))
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[tradectl] %v\n", err)
	}
	os.Exit(1)
}
