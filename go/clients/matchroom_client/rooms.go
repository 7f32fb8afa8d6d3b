package matchroom_client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mcdev12/bobgourmet/go/internal/models"
)

type joinRoomRequest struct {
	Password string `json:"password,omitempty"`
}

func (c *MatchRoomClient) GetAllActiveRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.Get(ctx, MatchRoomsEndpoint, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *MatchRoomClient) CreateRoom(ctx context.Context, req models.CreateRoomRequest) (*models.Room, error) {
	var room models.Room
	if err := c.Post(ctx, MatchRoomsEndpoint, req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *MatchRoomClient) JoinRoom(ctx context.Context, roomID, password string) (*models.Room, error) {
	var room models.Room
	if err := c.Post(ctx, roomPath(JoinEndpoint, roomID), joinRoomRequest{Password: password}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *MatchRoomClient) LeaveRoom(ctx context.Context, roomID string) error {
	var msg string
	return c.Post(ctx, roomPath(LeaveEndpoint, roomID), nil, &msg)
}

func (c *MatchRoomClient) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := c.Get(ctx, roomPath(RoomEndpoint, roomID), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func roomPath(format, roomID string) string {
	return fmt.Sprintf(format, url.PathEscape(roomID))
}
