package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/clients/matchroom_client"
	"github.com/mcdev12/bobgourmet/go/internal/config"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
	"github.com/mcdev12/bobgourmet/go/internal/realtime"
	"github.com/mcdev12/bobgourmet/go/internal/roomflow"
	"github.com/mcdev12/bobgourmet/go/internal/roomstate"
	"github.com/mcdev12/bobgourmet/go/internal/session"
	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

type Services struct {
	Client   *matchroom_client.MatchRoomClient
	Notes    *notify.ChannelNotifier
	Gate     *session.Gate
	Conn     *realtime.ConnectionManager
	Registry *realtime.Registry
	Store    *roomstate.Store
	Rooms    *roomflow.Service
}

func setupServices(ctx context.Context, cfg *config.Config, snapshots snapshot.Store) (*Services, error) {
	// Wire up the chain
	// Snapshots → Session → Request layer → Connection → Registry → Room flows
	clock := clockwork.NewRealClock()

	gate := session.NewGate(ctx, snapshots, clock)

	client := matchroom_client.NewMatchRoomClient(cfg.API.BaseURL)
	client.SetTokenSource(gate.Token)

	conn := realtime.NewConnectionManager(setupTransport(cfg.Realtime), clock, realtime.ConnectionConfig{
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
		DialTimeout:    cfg.Realtime.DialTimeout,
	})
	registry := realtime.NewRegistry(conn, clock, realtime.RegistryConfig{
		PollInterval: cfg.Realtime.SubscribePoll,
		MaxAttempts:  cfg.Realtime.SubscribeAttempts,
	})

	store := roomstate.NewStore(ctx, snapshots)

	notes, err := notify.NewChannelNotifier(cfg.Inspector.Notifications)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification feed: %w", err)
	}

	rooms := roomflow.NewService(gate, client, conn, registry, store, notify.Multi{notify.LogNotifier{}, notes},
		roomflow.WithLoginRedirect(func() {
			log.Warn().Msg("session ended, set ROOMSYNC_TOKEN or credentials and restart to log in again")
		}))
	client.OnUnauthorized(rooms.HandleUnauthorized)

	return &Services{
		Client:   client,
		Notes:    notes,
		Gate:     gate,
		Conn:     conn,
		Registry: registry,
		Store:    store,
		Rooms:    rooms,
	}, nil
}

func setupTransport(cfg config.RealtimeConfig) realtime.Transport {
	if cfg.Transport == config.TransportNATS {
		natsCfg := realtime.DefaultNATSConfig(cfg.URL)
		if host, err := os.Hostname(); err == nil {
			natsCfg.Name = natsCfg.Name + "-" + host
		}
		return realtime.NewNATSTransport(natsCfg)
	}

	stompCfg := realtime.DefaultStompConfig(cfg.URL)
	stompCfg.Host = cfg.Host
	stompCfg.HeartBeat = cfg.HeartBeat
	return realtime.NewStompTransport(stompCfg)
}

// Close stops the room flows and the subscription registry. The persisted
// room survives for the next start.
func (s *Services) Close() {
	s.Rooms.Close()
	s.Registry.Close()
}

// watchRoom logs a line for every room state change until ctx ends.
func watchRoom(ctx context.Context, services *Services) {
	changes, stop := services.Store.Watch()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			snap := services.Store.Snapshot()
			if snap.Room == nil {
				log.Info().Msg("not in a room")
				continue
			}
			log.Info().
				Str("room_id", snap.Room.RoomID).
				Str("state", string(snap.Room.State)).
				Strs("users", snap.Room.Users).
				Int("submitted", snap.MenuStatus.SubmittedCount()).
				Bool("drawn", snap.DrawResult != nil).
				Msg("room updated")
		}
	}
}
