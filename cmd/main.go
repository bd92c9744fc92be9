package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"voice-reservation-gateway/internal/app"
	"voice-reservation-gateway/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration load failed")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Service wiring failed")
	}

	application.Start()
	log.Info().
		Int("port", cfg.Server.Port).
		Int("metricsPort", cfg.Server.MetricsPort).
		Str("sttProvider", cfg.STT.Provider).
		Msg("Voice gateway started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Signal received, shutting down")
	application.Shutdown()
}
