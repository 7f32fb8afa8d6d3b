package roomstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
)

// Message kinds carried in Envelope.Type.
const (
	KindRoomStateUpdate   = "ROOM_STATE_UPDATE"
	KindParticipantUpdate = "PARTICIPANT_UPDATE"
	KindMenuStatusUpdate  = "MENU_STATUS_UPDATE"
	KindDrawResult        = "draw_result"
)

// ErrOtherRoom marks a push that belongs to a room other than the current
// one. Such frames are dropped.
var ErrOtherRoom = errors.New("roomstate: frame for a room that is not current")

// RandomSelection is reported as the selecting user when the server does not
// name one.
const RandomSelection = "Random Selection"

// Envelope is the frame body on the room events and menu status topics.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClosedNotice is the body of a room closure push.
type ClosedNotice struct {
	Message  string `json:"message"`
	ClosedBy string `json:"closedBy"`
}

// Router decodes pushes and applies them to a Store. It never returns
// errors to the transport; bad input is logged and dropped.
type Router struct {
	store    *Store
	self     func() string
	notifier notify.Notifier
	onClosed func(roomID string, notice ClosedNotice)
}

func NewRouter(store *Store, self func() string, notifier notify.Notifier) *Router {
	if self == nil {
		self = func() string { return "" }
	}
	return &Router{store: store, self: self, notifier: notifier}
}

// OnClosed sets the callback for closure pushes.
func (r *Router) OnClosed(fn func(roomID string, notice ClosedNotice)) {
	r.onClosed = fn
}

// HandleFrame applies one room events or menu status frame to whatever
// room is current. The menu status topic may carry a bare MenuStatus instead
// of an envelope.
func (r *Router) HandleFrame(body []byte) {
	r.handle("", body)
}

// HandleFrameFor applies a frame that arrived on roomID's topics. It is
// dropped unless roomID is the current room.
func (r *Router) HandleFrameFor(roomID string, body []byte) {
	r.handle(roomID, body)
}

func (r *Router) handle(roomID string, body []byte) {
	env, err := decodeEnvelope(body)
	if err != nil {
		log.Warn().Err(err).Int("size", len(body)).Msg("dropping malformed frame")
		return
	}
	err = r.apply(context.Background(), roomID, env)
	switch {
	case errors.Is(err, ErrOtherRoom):
		log.Debug().Err(err).Str("room_id", roomID).Str("type", env.Type).Msg("dropping frame for a room that is not current")
	case err != nil:
		log.Warn().Err(err).Str("type", env.Type).Msg("dropping frame")
	}
}

// HandleClosure handles a push on the closure topic for roomID. The body is
// informational only.
func (r *Router) HandleClosure(roomID string, body []byte) {
	var notice ClosedNotice
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &notice); err != nil {
			log.Debug().Err(err).Str("room_id", roomID).Msg("closure body not json, ignoring it")
		}
	}
	log.Info().Str("room_id", roomID).Str("closed_by", notice.ClosedBy).Msg("room closed by server")
	if r.onClosed != nil {
		r.onClosed(roomID, notice)
	}
}

// Apply runs exactly one transition for env against the current room.
// Unknown kinds are ignored.
func (r *Router) Apply(ctx context.Context, env Envelope) error {
	return r.apply(ctx, "", env)
}

// ApplyFor is Apply for a frame from roomID's topics. It returns
// ErrOtherRoom when roomID is not current or the payload names another room.
func (r *Router) ApplyFor(ctx context.Context, roomID string, env Envelope) error {
	return r.apply(ctx, roomID, env)
}

func (r *Router) apply(ctx context.Context, roomID string, env Envelope) error {
	switch env.Type {
	case KindRoomStateUpdate:
		var room models.Room
		if err := json.Unmarshal(env.Payload, &room); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if room.RoomID == "" {
			return fmt.Errorf("%s without roomId", env.Type)
		}
		if roomID != "" && room.RoomID != roomID {
			return fmt.Errorf("%w: %s names %s", ErrOtherRoom, env.Type, room.RoomID)
		}
		return r.applyRoomState(ctx, roomID, &room)

	case KindParticipantUpdate:
		var participants []models.Participant
		if err := json.Unmarshal(env.Payload, &participants); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return r.applyParticipants(ctx, roomID, participants)

	case KindMenuStatusUpdate:
		var status models.MenuStatus
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if !r.setMenuStatus(roomID, &status) {
			return fmt.Errorf("%w: %s", ErrOtherRoom, env.Type)
		}
		log.Debug().Int("submitted", status.SubmittedCount()).Msg("menu status updated")
		return nil

	case KindDrawResult:
		result, err := DecodeDrawResult(env.Payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if !r.setDrawResult(roomID, result) {
			return fmt.Errorf("%w: %s", ErrOtherRoom, env.Type)
		}
		log.Info().Strs("selected_menu", result.SelectedMenu).Msg("draw result received")
		return nil

	default:
		log.Info().Str("type", env.Type).Msg("ignoring unknown message type")
		return nil
	}
}

// updateRoom runs fn against the current room, or against roomID only when
// it is current. It reports whether fn ran.
func (r *Router) updateRoom(ctx context.Context, roomID string, fn func(*models.Room) *models.Room) (bool, error) {
	if roomID == "" {
		_, err := r.store.UpdateRoom(ctx, fn)
		return true, err
	}
	_, applied, err := r.store.UpdateRoomFor(ctx, roomID, fn)
	return applied, err
}

func (r *Router) setMenuStatus(roomID string, status *models.MenuStatus) bool {
	if roomID == "" {
		r.store.SetMenuStatus(status)
		return true
	}
	_, applied := r.store.SetMenuStatusFor(roomID, status)
	return applied
}

func (r *Router) setDrawResult(roomID string, result *models.DrawResult) bool {
	if roomID == "" {
		r.store.SetDrawResult(result)
		return true
	}
	_, applied := r.store.SetDrawResultFor(roomID, result)
	return applied
}

func (r *Router) applyRoomState(ctx context.Context, roomID string, room *models.Room) error {
	applied, err := r.updateRoom(ctx, roomID, func(prev *models.Room) *models.Room {
		return ReplaceRoom(prev, room)
	})
	if !applied {
		return fmt.Errorf("%w: %s", ErrOtherRoom, KindRoomStateUpdate)
	}
	if ResetsDraw(room) {
		r.setDrawResult(roomID, nil)
	}
	log.Debug().Str("room_id", room.RoomID).Str("state", string(room.State)).Msg("room state replaced")
	return err
}

func (r *Router) applyParticipants(ctx context.Context, roomID string, participants []models.Participant) error {
	var joined, left []string
	var applied bool
	ran, err := r.updateRoom(ctx, roomID, func(prev *models.Room) *models.Room {
		if prev == nil {
			return nil
		}
		applied = true
		joined, left = DiffUsers(prev.Users, models.Usernames(participants))
		return ReplaceParticipants(prev, participants)
	})
	if !ran {
		return fmt.Errorf("%w: %s", ErrOtherRoom, KindParticipantUpdate)
	}
	if !applied {
		log.Debug().Msg("participant update without a current room, ignoring")
		return nil
	}

	self := r.self()
	for _, username := range joined {
		if username != self {
			r.notifier.Notify(notify.SeveritySuccess, username+" joined the room")
		}
	}
	for _, username := range left {
		if username != self {
			r.notifier.Notify(notify.SeverityInfo, username+" left the room")
		}
	}
	return err
}

// ReplaceRoom is the ROOM_STATE_UPDATE transition: the server copy wins
// outright.
func ReplaceRoom(_ *models.Room, next *models.Room) *models.Room {
	room := next.Clone()
	room.Normalize()
	return room
}

// ReplaceParticipants is the PARTICIPANT_UPDATE transition. users is
// recomputed from the new participants.
func ReplaceParticipants(prev *models.Room, participants []models.Participant) *models.Room {
	if prev == nil {
		return nil
	}
	room := prev.Clone()
	room.Participants = append([]models.Participant{}, participants...)
	room.Users = nil
	room.Normalize()
	return room
}

// ResetsDraw reports whether next puts the room back before a draw.
func ResetsDraw(next *models.Room) bool {
	return next != nil && (next.State == models.RoomStateWaiting || next.State == models.RoomStateInputting)
}

// DiffUsers returns usernames present only in next (joined) and only in prev
// (left), each in the order of its source list.
func DiffUsers(prev, next []string) (joined, left []string) {
	before := make(map[string]bool, len(prev))
	for _, u := range prev {
		before[u] = true
	}
	after := make(map[string]bool, len(next))
	for _, u := range next {
		after[u] = true
		if !before[u] {
			joined = append(joined, u)
		}
	}
	for _, u := range prev {
		if !after[u] {
			left = append(left, u)
		}
	}
	return joined, left
}

// DecodeDrawResult accepts selectedMenu as a string or a list and fills in
// the selecting user when it is missing.
func DecodeDrawResult(payload json.RawMessage) (*models.DrawResult, error) {
	var raw struct {
		SelectedMenu json.RawMessage `json:"selectedMenu"`
		SelectedUser string          `json:"selectedUser"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}

	result := &models.DrawResult{SelectedUsername: raw.SelectedUser}
	var single string
	var list []string
	switch {
	case json.Unmarshal(raw.SelectedMenu, &single) == nil && single != "":
		result.SelectedMenu = []string{single}
	case json.Unmarshal(raw.SelectedMenu, &list) == nil:
		result.SelectedMenu = list
	default:
		return nil, fmt.Errorf("selectedMenu is neither string nor list: %s", raw.SelectedMenu)
	}
	if len(result.SelectedMenu) == 0 {
		return nil, fmt.Errorf("empty selectedMenu")
	}
	if result.SelectedUsername == "" {
		result.SelectedUsername = RandomSelection
	}
	return result, nil
}

func decodeEnvelope(body []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Envelope{}, err
	}
	if _, ok := fields["type"]; !ok {
		// The server publishes MenuStatus bare on the menu status topic.
		if _, ok := fields["userSubmitStatus"]; ok {
			return Envelope{Type: KindMenuStatusUpdate, Payload: body}, nil
		}
		if _, ok := fields["submittedMenusByUsers"]; ok {
			return Envelope{Type: KindMenuStatusUpdate, Payload: body}, nil
		}
		return Envelope{}, fmt.Errorf("frame has no type")
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
