package roomflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/clients"
	"github.com/mcdev12/bobgourmet/go/clients/matchroom_client"
	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
)

// ValidateMenus trims the items and checks them against the server limits:
// one to four distinct, non-empty items of at most fifty characters.
func ValidateMenus(menus []string) ([]string, error) {
	out := make([]string, 0, len(menus))
	seen := make(map[string]bool, len(menus))
	for _, m := range menus {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, fmt.Errorf("%w: empty menu item", ErrInvalidMenu)
		}
		if utf8.RuneCountInString(m) > matchroom_client.MaxMenuItemLength {
			return nil, fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidMenu, m, matchroom_client.MaxMenuItemLength)
		}
		if seen[m] {
			return nil, fmt.Errorf("%w: %q listed twice", ErrInvalidMenu, m)
		}
		seen[m] = true
		out = append(out, m)
	}
	if len(out) == 0 || len(out) > matchroom_client.MaxMenusPerSubmission {
		return nil, fmt.Errorf("%w: need between 1 and %d items, got %d", ErrInvalidMenu, matchroom_client.MaxMenusPerSubmission, len(out))
	}
	return out, nil
}

func (s *Service) currentRoom() (string, error) {
	roomID := s.store.RoomID()
	if roomID == "" {
		return "", ErrNoRoom
	}
	return roomID, nil
}

// SubmitMenu validates and submits the caller's menu list for the current room.
func (s *Service) SubmitMenu(ctx context.Context, menus []string) (*models.MenuStatus, error) {
	roomID, err := s.currentRoom()
	if err != nil {
		return nil, err
	}
	menus, err = ValidateMenus(menus)
	if err != nil {
		return nil, err
	}

	status, err := s.api.SubmitMenu(ctx, roomID, menus)
	if err != nil {
		return nil, s.actionFailed(roomID, "submit menu", err, "Failed to submit menus")
	}
	if status != nil {
		s.store.SetMenuStatus(status)
	}
	log.Info().Str("room_id", roomID).Int("count", len(menus)).Msg("menus submitted")
	s.notifier.Notify(notify.SeveritySuccess, "Menus submitted successfully!")
	return status, nil
}

// StartDraw starts the draw when CanStartDraw allows it for the caller.
func (s *Service) StartDraw(ctx context.Context) (*models.Room, error) {
	roomID, err := s.currentRoom()
	if err != nil {
		return nil, err
	}
	if !s.store.CanStartDraw(s.gate.Username()) {
		return nil, ErrDrawNotAllowed
	}

	room, err := s.api.StartDraw(ctx, roomID)
	if err != nil {
		return nil, s.actionFailed(roomID, "start draw", err, "Failed to start draw")
	}
	if err := s.adopt(ctx, roomID, room); err != nil {
		return nil, err
	}
	log.Info().Str("room_id", roomID).Msg("draw started")
	s.notifier.Notify(notify.SeveritySuccess, "Draw started!")
	return s.store.Room(), nil
}

// ResetRoom sends the room back to menu input and forgets the last draw.
func (s *Service) ResetRoom(ctx context.Context) (*models.Room, error) {
	roomID, err := s.currentRoom()
	if err != nil {
		return nil, err
	}

	room, err := s.api.ResetRoom(ctx, roomID)
	if err != nil {
		return nil, s.actionFailed(roomID, "reset room", err, "Failed to reset room")
	}
	if err := s.adopt(ctx, roomID, room); err != nil {
		return nil, err
	}
	s.store.SetDrawResult(nil)
	log.Info().Str("room_id", roomID).Msg("room reset")
	return s.store.Room(), nil
}

func (s *Service) RecommendMenu(ctx context.Context, menuKey string) (*models.MenuStatus, error) {
	return s.vote(ctx, menuKey, "recommend", s.api.RecommendMenu)
}

func (s *Service) DislikeMenu(ctx context.Context, menuKey string) (*models.MenuStatus, error) {
	return s.vote(ctx, menuKey, "dislike", s.api.DislikeMenu)
}

func (s *Service) vote(
	ctx context.Context,
	menuKey, action string,
	call func(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error),
) (*models.MenuStatus, error) {
	roomID, err := s.currentRoom()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(menuKey) == "" {
		return nil, fmt.Errorf("%w: empty menu key", ErrInvalidMenu)
	}

	status, err := call(ctx, roomID, menuKey)
	if err != nil {
		return nil, s.actionFailed(roomID, action+" menu", err, "Failed to "+action+" menu")
	}
	if status != nil {
		s.store.SetMenuStatus(status)
	}
	log.Debug().Str("room_id", roomID).Str("menu_key", menuKey).Str("action", action).Msg("menu vote recorded")
	return status, nil
}

// adopt stores a room returned by an action, unless the user has moved on.
func (s *Service) adopt(ctx context.Context, roomID string, room *models.Room) error {
	if room == nil || room.RoomID != roomID {
		return nil
	}
	_, err := s.store.UpdateRoom(ctx, func(current *models.Room) *models.Room {
		if current == nil || current.RoomID != roomID {
			return current
		}
		return room
	})
	if err != nil {
		return fmt.Errorf("store room %s: %w", roomID, err)
	}
	return nil
}

func (s *Service) actionFailed(roomID, action string, err error, fallback string) error {
	log.Error().Err(err).Str("room_id", roomID).Str("action", action).Msg("room action failed")
	s.notifier.Notify(notify.SeverityError, clients.MessageOf(err, fallback))
	return fmt.Errorf("%s: %w", action, err)
}
