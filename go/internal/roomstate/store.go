// Package roomstate holds the client's view of the current room and applies
// server pushes to it.
package roomstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/snapshot"
)

// SnapshotKey is where the current room is persisted.
const SnapshotKey = "bobgourmet_current_room"

// Snapshot is a consistent copy of everything the Store holds.
type Snapshot struct {
	Room        *models.Room        `json:"room"`
	MenuStatus  *models.MenuStatus  `json:"menuStatus"`
	MenuOptions []models.MenuOption `json:"menuOptions"`
	DrawResult  *models.DrawResult  `json:"drawResult"`
	Restored    bool                `json:"restored"`
}

// Store is the single source of room state for the process. Every Room
// write is mirrored to the snapshot store before the lock is released.
type Store struct {
	snapshots snapshot.Store

	mu          sync.Mutex
	room        *models.Room
	menuStatus  *models.MenuStatus
	menuOptions []models.MenuOption
	drawResult  *models.DrawResult
	restored    bool

	watchMu     sync.Mutex
	watchers    map[int]chan struct{}
	nextWatcher int
}

// NewStore seeds the room from snapshots. Missing or corrupt data leaves the
// room absent.
func NewStore(ctx context.Context, snapshots snapshot.Store) *Store {
	s := &Store{
		snapshots: snapshots,
		watchers:  make(map[int]chan struct{}),
	}

	data, err := snapshots.Load(ctx, SnapshotKey)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("failed to load persisted room, starting empty")
	default:
		var room models.Room
		if err := json.Unmarshal(data, &room); err != nil || room.RoomID == "" {
			log.Warn().Err(err).Msg("discarding corrupt persisted room")
			break
		}
		room.Normalize()
		s.room = &room
		s.restored = true
		log.Info().Str("room_id", room.RoomID).Msg("restored persisted room")
	}
	return s
}

func (s *Store) Room() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Clone()
}

// RoomID returns the current room's id, or "" when there is none.
func (s *Store) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.RoomID
}

// Restored reports whether the current room came from the snapshot and has
// not been confirmed or replaced since.
func (s *Store) Restored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// SetRoom replaces the room wholesale. A nil room deletes the snapshot.
func (s *Store) SetRoom(ctx context.Context, room *models.Room) error {
	_, err := s.UpdateRoom(ctx, func(*models.Room) *models.Room { return room })
	return err
}

// UpdateRoom applies fn to a copy of the current room under the store lock
// and persists the result. It reports whether the room changed.
func (s *Store) UpdateRoom(ctx context.Context, fn func(old *models.Room) *models.Room) (bool, error) {
	changed, _, err := s.updateRoom(ctx, "", fn)
	return changed, err
}

// UpdateRoomFor is UpdateRoom for a push on roomID's topics. Nothing is
// touched, and applied is false, unless roomID is the current room.
func (s *Store) UpdateRoomFor(ctx context.Context, roomID string, fn func(old *models.Room) *models.Room) (changed, applied bool, err error) {
	return s.updateRoom(ctx, roomID, fn)
}

func (s *Store) updateRoom(ctx context.Context, roomID string, fn func(old *models.Room) *models.Room) (bool, bool, error) {
	s.mu.Lock()
	if roomID != "" && s.currentLocked() != roomID {
		s.mu.Unlock()
		return false, false, nil
	}
	next := fn(s.room.Clone()).Clone()
	if next != nil {
		next.Normalize()
	}
	changed := !reflect.DeepEqual(s.room, next)
	s.room = next
	s.restored = false
	s.menuOptions = deriveMenuOptions(s.room, s.menuStatus)
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if changed {
		s.broadcast()
	}
	return changed, true, err
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.room == nil {
		if err := s.snapshots.Delete(ctx, SnapshotKey); err != nil {
			log.Error().Err(err).Msg("failed to delete persisted room")
			return fmt.Errorf("delete room snapshot: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(s.room)
	if err != nil {
		return fmt.Errorf("marshal room snapshot: %w", err)
	}
	if err := s.snapshots.Save(ctx, SnapshotKey, data); err != nil {
		log.Error().Err(err).Str("room_id", s.room.RoomID).Msg("failed to persist room")
		return fmt.Errorf("save room snapshot: %w", err)
	}
	return nil
}

func (s *Store) MenuStatus() *models.MenuStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMenuStatus(s.menuStatus)
}

// SetMenuStatus replaces the menu status and re-derives the menu options.
func (s *Store) SetMenuStatus(status *models.MenuStatus) bool {
	changed, _ := s.setMenuStatus("", status)
	return changed
}

// SetMenuStatusFor is SetMenuStatus for a push on roomID's topics. It
// reports false for applied when roomID is not the current room.
func (s *Store) SetMenuStatusFor(roomID string, status *models.MenuStatus) (changed, applied bool) {
	return s.setMenuStatus(roomID, status)
}

func (s *Store) setMenuStatus(roomID string, status *models.MenuStatus) (bool, bool) {
	status = cloneMenuStatus(status)

	s.mu.Lock()
	if roomID != "" && s.currentLocked() != roomID {
		s.mu.Unlock()
		return false, false
	}
	changed := !reflect.DeepEqual(s.menuStatus, status)
	s.menuStatus = status
	s.menuOptions = deriveMenuOptions(s.room, s.menuStatus)
	s.mu.Unlock()

	if changed {
		s.broadcast()
	}
	return changed, true
}

func (s *Store) MenuOptions() []models.MenuOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMenuOptions(s.menuOptions)
}

func (s *Store) DrawResult() *models.DrawResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDrawResult(s.drawResult)
}

func (s *Store) SetDrawResult(result *models.DrawResult) bool {
	changed, _ := s.setDrawResult("", result)
	return changed
}

// SetDrawResultFor is SetDrawResult for a push on roomID's topics.
func (s *Store) SetDrawResultFor(roomID string, result *models.DrawResult) (changed, applied bool) {
	return s.setDrawResult(roomID, result)
}

func (s *Store) setDrawResult(roomID string, result *models.DrawResult) (bool, bool) {
	result = cloneDrawResult(result)

	s.mu.Lock()
	if roomID != "" && s.currentLocked() != roomID {
		s.mu.Unlock()
		return false, false
	}
	changed := !reflect.DeepEqual(s.drawResult, result)
	s.drawResult = result
	s.mu.Unlock()

	if changed {
		s.broadcast()
	}
	return changed, true
}

func (s *Store) currentLocked() string {
	if s.room == nil {
		return ""
	}
	return s.room.RoomID
}

// Clear drops room, menu status and draw result and deletes the snapshot.
// It reports whether there was anything to clear.
func (s *Store) Clear(ctx context.Context) bool {
	s.mu.Lock()
	had := s.room != nil || s.menuStatus != nil || s.drawResult != nil
	s.room = nil
	s.menuStatus = nil
	s.menuOptions = nil
	s.drawResult = nil
	s.restored = false
	if err := s.persistLocked(ctx); err != nil {
		log.Warn().Err(err).Msg("room cleared in memory but snapshot delete failed")
	}
	s.mu.Unlock()

	if had {
		s.broadcast()
	}
	return had
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Room:        s.room.Clone(),
		MenuStatus:  cloneMenuStatus(s.menuStatus),
		MenuOptions: cloneMenuOptions(s.menuOptions),
		DrawResult:  cloneDrawResult(s.drawResult),
		Restored:    s.restored,
	}
}

// CanStartDraw is the start-draw policy: the caller hosts the room, the room
// is taking or has taken menus, and every participant has submitted.
func (s *Store) CanStartDraw(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room == nil || !s.room.IsHost(username) || len(s.room.Participants) == 0 {
		return false
	}
	if s.room.State != models.RoomStateInputting && s.room.State != models.RoomStateSubmitted {
		return false
	}
	for _, p := range s.room.Participants {
		if !s.menuStatus.HasSubmitted(p.Username) {
			return false
		}
	}
	return true
}

// Watch returns a channel that receives a value after state changes.
// Bursts of changes coalesce into one wake-up.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.watchMu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

func (s *Store) broadcast() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// deriveMenuOptions lists submitters in participant order, then any other
// submitter by username, skipping empty lists.
func deriveMenuOptions(room *models.Room, status *models.MenuStatus) []models.MenuOption {
	if status == nil || len(status.SubmittedMenusByUsers) == 0 {
		return nil
	}

	options := make([]models.MenuOption, 0, len(status.SubmittedMenusByUsers))
	seen := make(map[string]bool, len(status.SubmittedMenusByUsers))
	add := func(username string) {
		items := status.SubmittedMenusByUsers[username]
		if seen[username] || len(items) == 0 {
			return
		}
		seen[username] = true
		options = append(options, models.MenuOption{
			Username:  username,
			MenuItems: append([]string(nil), items...),
		})
	}

	if room != nil {
		for _, p := range room.Participants {
			add(p.Username)
		}
	}
	rest := make([]string, 0)
	for username := range status.SubmittedMenusByUsers {
		if !seen[username] {
			rest = append(rest, username)
		}
	}
	sort.Strings(rest)
	for _, username := range rest {
		add(username)
	}
	return options
}

func cloneMenuStatus(m *models.MenuStatus) *models.MenuStatus {
	if m == nil {
		return nil
	}
	c := &models.MenuStatus{
		DislikedAndExcludedMenuKeys: append([]string(nil), m.DislikedAndExcludedMenuKeys...),
	}
	if m.SubmittedMenusByUsers != nil {
		c.SubmittedMenusByUsers = make(map[string][]string, len(m.SubmittedMenusByUsers))
		for k, v := range m.SubmittedMenusByUsers {
			c.SubmittedMenusByUsers[k] = append([]string(nil), v...)
		}
	}
	if m.UserSubmitStatus != nil {
		c.UserSubmitStatus = make(map[string]bool, len(m.UserSubmitStatus))
		for k, v := range m.UserSubmitStatus {
			c.UserSubmitStatus[k] = v
		}
	}
	if m.MenuVotes != nil {
		c.MenuVotes = make(map[string]models.MenuVoteDetails, len(m.MenuVotes))
		for k, v := range m.MenuVotes {
			c.MenuVotes[k] = models.MenuVoteDetails{
				Recommenders: append([]string(nil), v.Recommenders...),
				Submitters:   append([]string(nil), v.Submitters...),
				DislikedBy:   append([]string(nil), v.DislikedBy...),
				IsExcluded:   v.IsExcluded,
			}
		}
	}
	return c
}

func cloneMenuOptions(options []models.MenuOption) []models.MenuOption {
	if options == nil {
		return nil
	}
	c := make([]models.MenuOption, len(options))
	for i, o := range options {
		c[i] = models.MenuOption{Username: o.Username, MenuItems: append([]string(nil), o.MenuItems...)}
	}
	return c
}

func cloneDrawResult(r *models.DrawResult) *models.DrawResult {
	if r == nil {
		return nil
	}
	c := *r
	c.SelectedMenu = append([]string(nil), r.SelectedMenu...)
	return &c
}
