package matchroom_client

import (
	"strings"

	"github.com/mcdev12/bobgourmet/go/clients"
)

// MatchRoomClient talks to the room server's REST API.
type MatchRoomClient struct {
	*clients.BaseClient
}

// NewMatchRoomClient expects the server origin, e.g. http://localhost:8080;
// the /api prefix is appended.
func NewMatchRoomClient(baseURL string) *MatchRoomClient {
	return &MatchRoomClient{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/") + "/api"),
	}
}
