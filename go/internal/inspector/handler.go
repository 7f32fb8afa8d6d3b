// Package inspector serves the local, read-only view of the sync state.
package inspector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
	"github.com/mcdev12/bobgourmet/go/internal/realtime"
	"github.com/mcdev12/bobgourmet/go/internal/roomstate"
)

// StateSource provides the room state to expose.
type StateSource interface {
	Snapshot() roomstate.Snapshot
}

// ConnectionSource reports the realtime connection state.
type ConnectionSource interface {
	State() realtime.State
}

// NotificationSource hands out the notifications not yet shown.
type NotificationSource interface {
	Drain() []notify.Notification
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	Connection string `json:"connection"`
	RoomID     string `json:"room_id,omitempty"`
	Username   string `json:"username,omitempty"`
	Uptime     string `json:"uptime"`
}

// MenusResponse is the body of GET /api/room/menus.
type MenusResponse struct {
	RoomID         string              `json:"room_id"`
	MenuOptions    []models.MenuOption `json:"menu_options"`
	SubmittedCount int                 `json:"submitted_count"`
	Participants   int                 `json:"participants"`
	DrawResult     *models.DrawResult  `json:"draw_result,omitempty"`
}

// Handler serves the inspector routes.
type Handler struct {
	state    StateSource
	conn     ConnectionSource
	notes    NotificationSource
	username func() string
	version  string
	started  time.Time
}

func NewHandler(state StateSource, conn ConnectionSource, notes NotificationSource, username func() string, version string) *Handler {
	if username == nil {
		username = func() string { return "" }
	}
	return &Handler{
		state:    state,
		conn:     conn,
		notes:    notes,
		username: username,
		version:  version,
		started:  time.Now(),
	}
}

// RegisterRoutes registers the inspector routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/info", h.HandleInfo)
	mux.HandleFunc("/api/room/state", h.HandleRoomState)
	mux.HandleFunc("/api/room/menus", h.HandleRoomMenus)
	mux.HandleFunc("/api/notifications", h.HandleNotifications)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// HandleInfo handles GET /info
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.state.Snapshot()
	info := InfoResponse{
		Service:    "roomsync",
		Version:    h.version,
		Connection: h.conn.State().String(),
		Username:   h.username(),
		Uptime:     time.Since(h.started).Truncate(time.Second).String(),
	}
	if snap.Room != nil {
		info.RoomID = snap.Room.RoomID
	}
	writeJSON(w, info)
}

// HandleRoomState handles GET /api/room/state
func (h *Handler) HandleRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.state.Snapshot()
	if snap.Room == nil {
		http.Error(w, "Not in a room", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

// HandleRoomMenus handles GET /api/room/menus
func (h *Handler) HandleRoomMenus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.state.Snapshot()
	if snap.Room == nil {
		http.Error(w, "Not in a room", http.StatusNotFound)
		return
	}
	resp := MenusResponse{
		RoomID:         snap.Room.RoomID,
		MenuOptions:    snap.MenuOptions,
		SubmittedCount: snap.MenuStatus.SubmittedCount(),
		Participants:   len(snap.Room.Participants),
		DrawResult:     snap.DrawResult,
	}
	if resp.MenuOptions == nil {
		resp.MenuOptions = []models.MenuOption{}
	}
	writeJSON(w, resp)
}

// HandleNotifications handles GET /api/notifications. Each notification is
// returned once.
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	notes := []notify.Notification{}
	if h.notes != nil {
		notes = append(notes, h.notes.Drain()...)
	}
	writeJSON(w, notes)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode inspector response")
	}
}
