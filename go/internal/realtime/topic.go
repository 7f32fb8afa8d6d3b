package realtime

import (
	"fmt"
	"strings"
)

// Kind is the concern a room topic carries.
type Kind string

const (
	KindRoomEvents  Kind = "events"
	KindRoomClosure Kind = "closed"
	KindMenuStatus  Kind = "menuStatus"
)

// RoomKinds lists every topic kind a room publishes on.
var RoomKinds = []Kind{KindRoomEvents, KindRoomClosure, KindMenuStatus}

// Topic identifies one per-room channel.
type Topic struct {
	RoomID string
	Kind   Kind
}

// Destination is the STOMP destination, e.g. /topic/room/R1/events.
func (t Topic) Destination() string {
	return fmt.Sprintf("/topic/room/%s/%s", t.RoomID, t.Kind)
}

// Subject is the NATS subject, e.g. room.R1.events. Dots and wildcards in
// the room ID are replaced so an ID can never widen the subscription.
func (t Topic) Subject() string {
	id := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(t.RoomID)
	return fmt.Sprintf("room.%s.%s", id, t.Kind)
}

func (t Topic) String() string {
	return t.RoomID + "/" + string(t.Kind)
}
