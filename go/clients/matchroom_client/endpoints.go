package matchroom_client

const (
	// API Endpoints
	LoginEndpoint      = "/auth/login"
	MatchRoomsEndpoint = "/MatchRooms"

	// Room sub-resources, formatted with the room ID
	RoomEndpoint      = MatchRoomsEndpoint + "/%s"
	JoinEndpoint      = MatchRoomsEndpoint + "/%s/join"
	LeaveEndpoint     = MatchRoomsEndpoint + "/%s/leave"
	MenusEndpoint     = MatchRoomsEndpoint + "/%s/menus"
	StartDrawEndpoint = MatchRoomsEndpoint + "/%s/start-draw"
	ResetEndpoint     = MatchRoomsEndpoint + "/%s/reset"
	RecommendEndpoint = MatchRoomsEndpoint + "/%s/menus/%s/recommend"
	DislikeEndpoint   = MatchRoomsEndpoint + "/%s/menus/%s/dislike"

	// Submission limits enforced by the server
	MaxMenusPerSubmission = 4
	MaxMenuItemLength     = 50
)
