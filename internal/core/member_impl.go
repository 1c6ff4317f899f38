package core

import (
	"sync/atomic"

	"github.com/dkeye/Meet/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	id     SessionID
	roomID domain.RoomID
	meta   *domain.Member
	conn   SignalConnection
	state  atomic.Int32
}

func NewMemberSession(id SessionID, roomID domain.RoomID, meta *domain.Member, conn SignalConnection) MemberSession {
	return &memberSession{id: id, roomID: roomID, meta: meta, conn: conn}
}

func (m *memberSession) ID() SessionID            { return m.id }
func (m *memberSession) RoomID() domain.RoomID    { return m.roomID }
func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.conn }

func (m *memberSession) State() SessionState {
	return SessionState(m.state.Load())
}

func (m *memberSession) Transition(from, to SessionState) bool {
	if !legalTransition(from, to) {
		return false
	}
	return m.state.CompareAndSwap(int32(from), int32(to))
}

func legalTransition(from, to SessionState) bool {
	switch from {
	case StateConnecting:
		return to == StateAuthorized || to == StateClosed
	case StateAuthorized:
		return to == StateActive || to == StateClosed
	case StateActive:
		return to == StateClosed
	default:
		return false
	}
}
