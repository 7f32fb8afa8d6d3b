package realtime

import "errors"

var (
	// ErrNotConnected means there is no live transport to use.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrRejected means the broker refused the session during negotiation.
	ErrRejected = errors.New("realtime: session rejected by broker")

	// ErrSuperseded means a Disconnect or a token change overtook a connect
	// attempt before it finished.
	ErrSuperseded = errors.New("realtime: connect attempt superseded")

	// ErrNoToken is returned by Connect when called with an empty token.
	ErrNoToken = errors.New("realtime: empty token")

	// ErrConnClosed is returned by operations on a closed transport connection.
	ErrConnClosed = errors.New("realtime: connection closed")
)
