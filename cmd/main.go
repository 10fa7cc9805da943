package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"signalbridge/cmd/executor"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Signalbridge CMD"
	app.Usage = "The signalbridge command line interface"

	app.Commands = []cli.Command{
		executorCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var executorCMD = cli.Command{
	Name:        "executor",
	Usage:       "run Executor",
	Action:      executorAction,
	ArgsUsage:   "",
	Flags:       []cli.Flag{},
	Description: `Run the signal executor daemon`,
}

func executorAction(_ *cli.Context) error {

	logrus.Info("Starting executor CMD")
	logrus.WithField("cmd", "executor")

	signalExecutor := &executor.Executor{}
	err := signalExecutor.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
