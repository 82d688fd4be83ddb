package main

import (
	"context"
	"os"

	"github.com/cameroncuttingedge/pixel_canvas/config"
	"github.com/cameroncuttingedge/pixel_canvas/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	InitializeLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Starting App")
	srv := server.New(cfg)
	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
}

func InitializeLogger() {
	loggingEnabled := os.Getenv("LOGGING")
	if loggingEnabled != "true" {
		log.Logger = log.Output(os.Stdout)
	} else {
		runLogFile, err := os.OpenFile(
			"canvas.log",
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0664,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open log file")
		}
		multi := zerolog.MultiLevelWriter(runLogFile, os.Stdout)
		log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
