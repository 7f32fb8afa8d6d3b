// Package notify carries one-way user notifications out of the sync core.
package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity of a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Notification is a single user-facing message.
type Notification struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(severity Severity, message string)
}

// LogNotifier writes notifications to the global zerolog logger.
type LogNotifier struct{}

func (LogNotifier) Notify(severity Severity, message string) {
	var ev *zerolog.Event
	switch severity {
	case SeverityError:
		ev = log.Error()
	case SeverityWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev.Str("severity", severity.String()).Msg(message)
}

// ChannelNotifier buffers notifications for a consumer to drain. When the
// buffer is full the oldest pending notification is dropped.
type ChannelNotifier struct {
	ch chan Notification
}

func NewChannelNotifier(size int) (*ChannelNotifier, error) {
	if size < 1 {
		return nil, fmt.Errorf("notification buffer size must be at least 1, got %d", size)
	}
	return &ChannelNotifier{ch: make(chan Notification, size)}, nil
}

func (n *ChannelNotifier) Notify(severity Severity, message string) {
	note := Notification{Severity: severity, Message: message, At: time.Now()}
	for {
		select {
		case n.ch <- note:
			return
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

// C returns the receive side of the buffer.
func (n *ChannelNotifier) C() <-chan Notification {
	return n.ch
}

// Drain returns every pending notification, oldest first, without blocking.
func (n *ChannelNotifier) Drain() []Notification {
	var notes []Notification
	for {
		select {
		case note := <-n.ch:
			notes = append(notes, note)
		default:
			return notes
		}
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(severity Severity, message string) {
	for _, n := range m {
		n.Notify(severity, message)
	}
}
