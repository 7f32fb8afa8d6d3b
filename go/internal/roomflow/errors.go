package roomflow

import "errors"

var (
	// ErrNoRoom is returned by room actions when no room is current.
	ErrNoRoom = errors.New("roomflow: no current room")

	// ErrNoSession is returned when an action needs a token and there is none.
	ErrNoSession = errors.New("roomflow: not logged in")

	// ErrInvalidMenu wraps every menu submission validation failure.
	ErrInvalidMenu = errors.New("roomflow: invalid menu submission")

	// ErrDrawNotAllowed means the caller may not start the draw yet.
	ErrDrawNotAllowed = errors.New("roomflow: draw cannot be started")
)
