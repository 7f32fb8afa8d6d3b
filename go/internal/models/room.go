package models

// RoomState defines the phase a room is in.
type RoomState string

const (
	RoomStateWaiting       RoomState = "waiting"
	RoomStateInputting     RoomState = "inputting"
	RoomStateSubmitted     RoomState = "submitted"
	RoomStateStarted       RoomState = "started"
	RoomStateResultViewing RoomState = "result_viewing"
)

// Participant is a member of a room, unique by username.
type Participant struct {
	Username      string `json:"username"`
	Nickname      string `json:"nickname"`
	Endpoint      string `json:"endpoint,omitempty"`
	SubmittedMenu bool   `json:"submittedMenu"`
}

// Room is the server's view of a match room.
type Room struct {
	RoomID       string        `json:"roomId"`
	RoomName     string        `json:"roomName"`
	HostUsername string        `json:"hostUsername"`
	HostNickname string        `json:"hostNickname,omitempty"`
	MaxUsers     int           `json:"maxUsers"`
	Users        []string      `json:"users"`
	Participants []Participant `json:"participants"`
	State        RoomState     `json:"state"`
	IsPrivate    bool          `json:"isPrivate"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.Users != nil {
		c.Users = append([]string(nil), r.Users...)
	}
	if r.Participants != nil {
		c.Participants = append([]Participant(nil), r.Participants...)
	}
	return &c
}

// Usernames projects participants onto their usernames, preserving order and
// dropping duplicates.
func Usernames(participants []Participant) []string {
	users := make([]string, 0, len(participants))
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if seen[p.Username] {
			continue
		}
		seen[p.Username] = true
		users = append(users, p.Username)
	}
	return users
}

// HasParticipant reports whether username is in the room.
func (r *Room) HasParticipant(username string) bool {
	for _, p := range r.Participants {
		if p.Username == username {
			return true
		}
	}
	return false
}

// IsHost reports whether username hosts the room.
func (r *Room) IsHost(username string) bool {
	return username != "" && r.HostUsername == username
}

// CreateRoomRequest is the body of a create-room call.
type CreateRoomRequest struct {
	RoomName  string `json:"roomName"`
	MaxUsers  int    `json:"maxUsers"`
	IsPrivate bool   `json:"isPrivate"`
	Password  string `json:"password,omitempty"`
}

// Normalize makes Users the username projection of Participants. A room
// that arrives with users but no participant records gets bare participants
// so no member is lost.
func (r *Room) Normalize() {
	if len(r.Participants) == 0 && len(r.Users) > 0 {
		r.Participants = make([]Participant, 0, len(r.Users))
		for _, u := range r.Users {
			r.Participants = append(r.Participants, Participant{Username: u})
		}
	}
	seen := make(map[string]bool, len(r.Participants))
	participants := r.Participants[:0:0]
	for _, p := range r.Participants {
		if seen[p.Username] {
			continue
		}
		seen[p.Username] = true
		participants = append(participants, p)
	}
	if len(participants) != len(r.Participants) {
		r.Participants = participants
	}
	r.Users = Usernames(r.Participants)
}
