package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/config"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("ROOMSYNC_CONFIG"), "path to a YAML config file")
	joinRoom := flag.String("join", "", "room id to join after start")
	roomPassword := flag.String("room-password", "", "password for -join")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, closeSnapshots, err := setupSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open snapshot store")
	}
	defer closeSnapshots()

	services, err := setupServices(ctx, cfg, snapshots)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	log.Info().
		Str("api", cfg.API.BaseURL).
		Str("transport", cfg.Realtime.Transport).
		Str("broker", cfg.Realtime.URL).
		Str("snapshots", cfg.Snapshot.Backend).
		Msg("starting room sync")

	if err := login(ctx, cfg.Auth, services); err != nil {
		log.Error().Err(err).Msg("login failed, continuing without a session")
	}

	outcome, err := services.Rooms.Start(ctx)
	if err != nil {
		log.Warn().Err(err).Str("outcome", outcome.String()).Msg("room recovery did not complete")
	} else {
		log.Info().Str("outcome", outcome.String()).Msg("room recovery finished")
	}

	if *joinRoom != "" {
		if _, err := services.Rooms.JoinRoom(ctx, *joinRoom, *roomPassword); err != nil {
			log.Error().Err(err).Str("room_id", *joinRoom).Msg("failed to join room")
		}
	}

	server := setupServer(cfg, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("inspector starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("inspector failed")
		}
	}()

	go watchRoom(ctx, services)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("inspector shutdown failed")
	}

	cancel()
	services.Close()

	log.Info().Msg("room sync shutdown complete")
}
