package core

import (
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
)

// SessionID identifies one connection, not one user.
type SessionID string

// SessionState is the lifecycle of a signaling session:
// Connecting -> Authorized -> Active -> Closed, with Closed reachable from
// every state.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthorized
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	RoomID() domain.RoomID
	Meta() *domain.Member
	Signal() SignalConnection

	State() SessionState
	// Transition moves the session from one state to another if it is
	// currently in from and the edge is legal. It reports whether this call
	// performed the move, so exactly one caller wins each edge.
	Transition(from, to SessionState) bool
}
