// Command ottdwire decodes, encodes and queries OpenTTD discovery and Game
// Coordinator packets, and serves the codec over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ottdwire/ottdwire/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var root cli.CLI
	parser, err := cli.New(&root)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build command line")
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	app, err := root.Setup(ctx, os.Stdin, os.Stdout)
	kctx.FatalIfErrorf(err)

	if err := kctx.Run(app); err != nil {
		log.Error().Err(err).Str("command", kctx.Command()).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
