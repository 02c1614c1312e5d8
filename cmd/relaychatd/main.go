package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("relaychatd failed")
		os.Exit(1)
	}
}
