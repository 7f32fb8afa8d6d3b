package roomflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/clients"
	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
)

// ListRooms returns the active rooms.
func (s *Service) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.api.GetAllActiveRooms(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list rooms")
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	for i := range rooms {
		rooms[i].Normalize()
	}
	return rooms, nil
}

// JoinRoom subscribes to every topic of roomID and only then sends the join
// request, so no push that follows the join is missed.
func (s *Service) JoinRoom(ctx context.Context, roomID, password string) (*models.Room, error) {
	if !s.gate.Valid() {
		return nil, ErrNoSession
	}
	previous := s.store.RoomID()
	logger := log.With().Str("room_id", roomID).Logger()

	if err := s.ensureConnected(ctx); err != nil {
		logger.Warn().Err(err).Msg("joining without live updates")
		s.notifier.Notify(notify.SeverityWarning, msgRealtimeUnavailable)
	} else if err := s.attach(ctx, roomID); err != nil {
		if ctx.Err() != nil {
			s.dropUnlessCurrent(roomID, previous)
			return nil, ctx.Err()
		}
		logger.Warn().Err(err).Msg("joining without live updates")
	}

	room, err := s.api.JoinRoom(ctx, roomID, password)
	if err != nil {
		s.dropUnlessCurrent(roomID, previous)
		logger.Error().Err(err).Msg("failed to join room")
		s.notifier.Notify(notify.SeverityError, clients.MessageOf(err, "Failed to join room"))
		return nil, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if room == nil || room.RoomID == "" {
		room = &models.Room{RoomID: roomID}
	}

	if err := s.enter(ctx, previous, room); err != nil {
		return nil, err
	}
	logger.Info().Msg("joined room")
	s.notifier.Notify(notify.SeveritySuccess, "Joined room successfully!")
	return s.store.Room(), nil
}

// CreateRoom creates a room, subscribes to it and adopts the server's view
// of it as the current room.
func (s *Service) CreateRoom(ctx context.Context, req models.CreateRoomRequest) (*models.Room, error) {
	if !s.gate.Valid() {
		return nil, ErrNoSession
	}
	previous := s.store.RoomID()

	connected := true
	if err := s.ensureConnected(ctx); err != nil {
		connected = false
		log.Warn().Err(err).Msg("creating room without live updates")
		s.notifier.Notify(notify.SeverityWarning, msgRealtimeUnavailable)
	}

	created, err := s.api.CreateRoom(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("room_name", req.RoomName).Msg("failed to create room")
		s.notifier.Notify(notify.SeverityError, clients.MessageOf(err, "Failed to create room"))
		return nil, fmt.Errorf("create room: %w", err)
	}
	if created == nil || created.RoomID == "" {
		return nil, fmt.Errorf("create room: response carried no room id")
	}
	logger := log.With().Str("room_id", created.RoomID).Logger()

	if connected {
		if err := s.attach(ctx, created.RoomID); err != nil {
			logger.Warn().Err(err).Msg("created room without live updates")
		}
	}

	// The create response may predate the host's own participant entry.
	room := created
	if fresh, err := s.api.GetRoom(ctx, created.RoomID); err != nil {
		logger.Warn().Err(err).Msg("could not refetch created room, using create response")
	} else {
		room = fresh
	}

	if err := s.enter(ctx, previous, room); err != nil {
		return nil, err
	}
	logger.Info().Msg("created room")
	s.notifier.Notify(notify.SeveritySuccess, "Room created successfully!")
	return s.store.Room(), nil
}

// LeaveRoom leaves the current room and tears down. A room the server no
// longer knows is torn down too; any other failure keeps local state.
func (s *Service) LeaveRoom(ctx context.Context) error {
	roomID := s.store.RoomID()
	if roomID == "" {
		return ErrNoRoom
	}
	logger := log.With().Str("room_id", roomID).Logger()

	if err := s.api.LeaveRoom(ctx, roomID); err != nil {
		if !clients.IsNotFound(err) {
			logger.Error().Err(err).Msg("failed to leave room")
			s.notifier.Notify(notify.SeverityError, clients.MessageOf(err, "Failed to leave room"))
			return fmt.Errorf("leave room %s: %w", roomID, err)
		}
		logger.Info().Msg("room already gone, leaving locally")
	}

	s.Teardown(ctx, "left room")
	s.notifier.Notify(notify.SeveritySuccess, "Left room successfully")
	return nil
}

// enter makes room current. Moving to a different room drops the old
// room's topics and the menu and draw state that belonged to it.
func (s *Service) enter(ctx context.Context, previous string, room *models.Room) error {
	if previous != "" && previous != room.RoomID {
		s.detach(previous)
		s.store.SetMenuStatus(nil)
		s.store.SetDrawResult(nil)
	}
	if err := s.store.SetRoom(ctx, room); err != nil {
		return fmt.Errorf("store room %s: %w", room.RoomID, err)
	}
	return nil
}

func (s *Service) dropUnlessCurrent(roomID, current string) {
	if roomID != current {
		s.detach(roomID)
	}
}
