// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	recorder "github.com/mijahauan/signal-recorder-sub006"
	"github.com/mijahauan/signal-recorder-sub006/config"
)

const (
	exitConfig  = 2
	exitRuntime = 1
)

func main() {
	configPath := flag.String("config", "recorder.yaml", "configuration file")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Configuration error")
		os.Exit(exitConfig)
	}

	rec, err := recorder.New(cfg)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			log.Error().Err(err).Msg("Configuration error")
			os.Exit(exitConfig)
		}
		log.Error().Err(err).Msg("Startup failed")
		os.Exit(exitRuntime)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rec.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Recorder failed")
		os.Exit(exitRuntime)
	}
}
