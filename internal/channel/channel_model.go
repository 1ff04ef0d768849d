package channel

import (
	"errors"
)

// ErrUnknownDepartment is returned when a join names a department outside the
// configured set.
var ErrUnknownDepartment = errors.New("unknown department")

// Subscriber is a live display connection. Send must never block: it reports
// false when the message could not be queued.
type Subscriber interface {
	ID() string
	Send(msg []byte) bool
}

// ClientMessage is a request read from a display client.
type ClientMessage struct {
	Action     string `json:"action"`
	Department string `json:"department"`
}

const (
	ActionJoin     = "join"
	ActionLeave    = "leave"
	ActionSnapshot = "snapshot"
)

// ServerFrame is a control reply written to a display client. Lifecycle
// events use their own shape (see package broadcast).
type ServerFrame struct {
	Type       string      `json:"type"`
	Department string      `json:"department,omitempty"`
	Notices    interface{} `json:"notices,omitempty"`
	Error      string      `json:"error,omitempty"`
}

const (
	FrameJoined   = "joined"
	FrameLeft     = "left"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)
