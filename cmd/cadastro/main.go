// Command cadastro manages the registration records kept in a Google
// spreadsheet, with photos on Google Drive and a local cache for offline
// reads.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"

	"github.com/ideamans/go-cadastro/internal/app"
)

func main() {
	app.SetupEnvironment()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
