package matchroom_client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mcdev12/bobgourmet/go/internal/models"
)

func (c *MatchRoomClient) SubmitMenu(ctx context.Context, roomID string, menus []string) (*models.MenuStatus, error) {
	var status models.MenuStatus
	if err := c.Post(ctx, roomPath(MenusEndpoint, roomID), models.MenuSubmission{Menus: menus}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StartDraw answers with the room in result_viewing. The selected menu
// itself arrives on the room events topic as a draw_result.
func (c *MatchRoomClient) StartDraw(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := c.Post(ctx, roomPath(StartDrawEndpoint, roomID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ResetRoom puts the room back into menu input.
func (c *MatchRoomClient) ResetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := c.Post(ctx, roomPath(ResetEndpoint, roomID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *MatchRoomClient) RecommendMenu(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error) {
	return c.vote(ctx, RecommendEndpoint, roomID, menuKey)
}

func (c *MatchRoomClient) DislikeMenu(ctx context.Context, roomID, menuKey string) (*models.MenuStatus, error) {
	return c.vote(ctx, DislikeEndpoint, roomID, menuKey)
}

func (c *MatchRoomClient) vote(ctx context.Context, endpoint, roomID, menuKey string) (*models.MenuStatus, error) {
	var status models.MenuStatus
	if err := c.Post(ctx, menuPath(endpoint, roomID, menuKey), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func menuPath(format, roomID, menuKey string) string {
	return fmt.Sprintf(format, url.PathEscape(roomID), url.PathEscape(menuKey))
}
