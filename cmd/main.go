package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/benfoxall/cast/cmd/coordinator"
	"github.com/benfoxall/cast/cmd/turn"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal().Err(err)
	}
}

func run(args []string) error {
	app := &cli.App{
		Name:  "cast",
		Usage: "cast coordinates live screen-sharing sessions through an external SFU",
		Flags: []cli.Flag{ // Global flags.
			&cli.BoolFlag{
				Name:        "debug",
				Value:       false,
				Usage:       "enable debug mod",
				DefaultText: "false",
				EnvVars:     []string{"DEBUG"},
			},
		},
		Commands: []*cli.Command{
			coordinator.Command(),
			turn.Command(),
		},
	}

	return app.Run(args)
}
