package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const serviceName = "power-usage-forwarder"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "forwarder:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "forwarder"
	app.Usage = "Forward daily meter readings from HetMeetbedrijf to Blockbax"
	app.Version = version
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "dotenv file(s) loaded before reading the environment (default .env)",
		},
	}
	app.Commands = []cli.Command{
		cmdRun,
		cmdServe,
		cmdVersion,
	}
	return app
}
