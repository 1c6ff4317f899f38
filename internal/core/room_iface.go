package core

import (
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SessionID SessionID     `json:"session_id"`
	UserID    domain.UserID `json:"user_id"`
	Username  string        `json:"username"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Member(sid SessionID) (MemberSession, bool)

	AddMember(ms MemberSession) error
	// RemoveMember reports whether sid was present and whether the room is
	// now empty. An emptied room is closed and rejects further joins.
	RemoveMember(sid SessionID) (removed, empty bool)
	Broadcast(exclude SessionID, data Frame) PublishResult
	SendToUser(uid domain.UserID, data Frame) PublishResult
	// Relay fans data out on behalf of from, only while from is still a
	// member. A target sends to that user's sessions; otherwise the rest of
	// the room gets it, from included when echo is set.
	Relay(from SessionID, target domain.UserID, echo bool, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"room_id"`
	CreatedAt   time.Time     `json:"created_at"`
	MemberCount int           `json:"member_count"`
	Members     []MemberDTO   `json:"members"`
}

// RoomManager maps meeting ids to live rooms. Rooms exist only while they
// have at least one session.
type RoomManager interface {
	Join(id domain.RoomID, ms MemberSession) (RoomService, error)
	Leave(id domain.RoomID, sid SessionID) bool
	Broadcast(id domain.RoomID, data Frame, exclude SessionID) PublishResult
	SendToUser(id domain.RoomID, uid domain.UserID, data Frame) PublishResult
	Relay(id domain.RoomID, from SessionID, target domain.UserID, echo bool, data Frame) PublishResult

	GetRoom(id domain.RoomID) (RoomService, bool)
	Len() int
}
