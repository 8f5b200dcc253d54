package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"my/fronius_publisher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Fronius data collector exited")
		os.Exit(1)
	}
}
