package roomflow

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bobgourmet/go/clients"
	"github.com/mcdev12/bobgourmet/go/internal/models"
	"github.com/mcdev12/bobgourmet/go/internal/notify"
	"github.com/mcdev12/bobgourmet/go/internal/roomstate"
)

// Outcome is the result of one recovery run.
type Outcome int

const (
	OutcomeNoRoom Outcome = iota
	OutcomeRecovered
	OutcomeRoomGone
	OutcomeKept
	OutcomeCleared
	OutcomeNoSession
	OutcomeConnectFailed
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoRoom:
		return "no_room"
	case OutcomeRecovered:
		return "recovered"
	case OutcomeRoomGone:
		return "room_gone"
	case OutcomeKept:
		return "kept"
	case OutcomeCleared:
		return "cleared"
	case OutcomeNoSession:
		return "no_session"
	case OutcomeConnectFailed:
		return "connect_failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

const (
	msgRecovered      = "Room state recovered successfully"
	msgRoomGone       = "Previous room no longer exists"
	msgUnverified     = "Unable to verify room status. Please try refreshing again."
	msgRecoveryFailed = "Failed to recover room state. Please rejoin the room."
)

// Recovery reconciles the persisted room with the server. Runs are
// serialized; a run that starts while another is in flight waits for it.
type Recovery struct {
	gate     SessionGate
	api      RoomAPI
	conn     Connector
	store    *roomstate.Store
	attach   func(ctx context.Context, roomID string) error
	detach   func(roomID string)
	notifier notify.Notifier

	mu sync.Mutex
}

// Run re-verifies the current room. Only server answers change state: a
// cancelled context or a failed connect leave it as it was.
func (r *Recovery) Run(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID := r.store.RoomID()
	if roomID == "" {
		return OutcomeNoRoom, nil
	}
	token, ok := r.gate.Token()
	if !ok {
		return OutcomeNoSession, nil
	}
	logger := log.With().Str("room_id", roomID).Logger()

	if !r.conn.IsConnected() {
		if err := r.conn.Connect(ctx, token); err != nil {
			if ctx.Err() != nil {
				return OutcomeCanceled, ctx.Err()
			}
			logger.Warn().Err(err).Msg("recovery could not connect")
			r.notifier.Notify(notify.SeverityWarning, msgConnectFailed)
			return OutcomeConnectFailed, err
		}
	}

	// A failed attach only costs live updates; the fetch still decides.
	if err := r.attach(ctx, roomID); err != nil && ctx.Err() != nil {
		return OutcomeCanceled, ctx.Err()
	}

	room, err := r.api.GetRoom(ctx, roomID)
	if ctx.Err() != nil {
		return OutcomeCanceled, ctx.Err()
	}

	switch {
	case err == nil:
		matched := false
		_, err := r.store.UpdateRoom(ctx, func(current *models.Room) *models.Room {
			if current == nil || current.RoomID != roomID {
				return current
			}
			matched = true
			return room
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to persist recovered room")
		}
		if !matched {
			// The user moved on while the fetch was in flight.
			logger.Info().Msg("room changed during recovery, discarding result")
			return OutcomeRecovered, nil
		}
		logger.Info().Msg("room state recovered")
		r.notifier.Notify(notify.SeveritySuccess, msgRecovered)
		return OutcomeRecovered, nil

	case clients.IsNotFound(err):
		logger.Info().Msg("persisted room no longer exists")
		r.drop(ctx, roomID)
		r.notifier.Notify(notify.SeverityError, msgRoomGone)
		return OutcomeRoomGone, nil

	case clients.IsServerError(err):
		logger.Warn().Err(err).Msg("server error during recovery, keeping local room")
		r.notifier.Notify(notify.SeverityError, msgUnverified)
		return OutcomeKept, err

	default:
		logger.Error().Err(err).Msg("recovery failed, clearing local room")
		r.drop(ctx, roomID)
		r.notifier.Notify(notify.SeverityError, msgRecoveryFailed)
		return OutcomeCleared, err
	}
}

func (r *Recovery) drop(ctx context.Context, roomID string) {
	r.detach(roomID)
	if r.store.RoomID() == roomID {
		r.store.Clear(ctx)
	}
}
