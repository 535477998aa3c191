package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"grouptrade/cmd/simulate"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "GroupTrade CMD"
	app.Usage = "The GroupTrade command line interface"

	app.Commands = []cli.Command{
		simulateCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var simulateCMD = cli.Command{
	Name:        "simulate",
	Usage:       "run a scripted replication session",
	Action:      simulateAction,
	ArgsUsage:   "",
	Flags:       []cli.Flag{},
	Description: `Run a scripted leader session against the simulated brokerage`,
}

func simulateAction(_ *cli.Context) error {

	logrus.Info("Starting simulate CMD")
	logrus.WithField("cmd", "simulate")

	session := &simulate.Session{}
	err := session.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
