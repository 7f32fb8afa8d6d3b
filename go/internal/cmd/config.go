package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/config"
)

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// login installs a session from the configured token, or logs in with the
// configured credentials. A persisted session that is still valid is kept.
func login(ctx context.Context, auth config.AuthConfig, services *Services) error {
	if auth.Token != "" {
		return services.Gate.SetToken(ctx, auth.Token)
	}
	if services.Gate.Valid() {
		log.Info().Str("username", services.Gate.Username()).Msg("using persisted session")
		return nil
	}
	if auth.Username == "" {
		log.Info().Msg("no credentials configured, waiting for a session")
		return nil
	}

	token, err := services.Client.Login(ctx, auth.Username, auth.Password)
	if err != nil {
		return fmt.Errorf("login %s: %w", auth.Username, err)
	}
	return services.Gate.SetToken(ctx, token)
}
