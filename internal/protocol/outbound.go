package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Outbound message types.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice-candidate"
	TypeUserJoined   = "user_joined"
	TypeUserLeft     = "user_left"
	TypeCallJoined   = "call-joined"
	TypeCallLeft     = "call-left"
	TypeRoomState    = "room_state"
	TypePong         = "pong"
	TypeError        = "error"
)

// Sender identifies the session a relayed message originated from.
type Sender struct {
	SessionID core.SessionID
	User      *domain.User
}

type SignalOut struct {
	Type          string         `json:"type"`
	SDP           string         `json:"sdp"`
	SenderID      domain.UserID  `json:"sender_id"`
	SenderName    string         `json:"sender_name"`
	SenderSession core.SessionID `json:"sender_session"`
	TargetID      domain.UserID  `json:"target_id,omitempty"`
}

type CandidateOut struct {
	Type          string          `json:"type"`
	Candidate     json.RawMessage `json:"candidate"`
	SenderID      domain.UserID   `json:"sender_id"`
	SenderName    string          `json:"sender_name"`
	SenderSession core.SessionID  `json:"sender_session"`
	TargetID      domain.UserID   `json:"target_id,omitempty"`
}

type PresenceOut struct {
	Type      string         `json:"type"`
	UserID    domain.UserID  `json:"user_id"`
	Username  string         `json:"username"`
	Email     string         `json:"email,omitempty"`
	SessionID core.SessionID `json:"session_id"`
}

type CallOut struct {
	Type      string          `json:"type"`
	UserID    domain.UserID   `json:"user_id"`
	Username  string          `json:"username"`
	SessionID core.SessionID  `json:"session_id"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type RoomStateOut struct {
	Type      string           `json:"type"`
	RoomID    domain.RoomID    `json:"room_id"`
	SessionID core.SessionID   `json:"session_id"`
	Members   []core.MemberDTO `json:"members"`
}

type ErrorOut struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongOut struct {
	Type string `json:"type"`
}

func NewOffer(from Sender, m Offer) SignalOut {
	return signalOut(TypeOffer, from, m.SDP, m.TargetID)
}

func NewAnswer(from Sender, m Answer) SignalOut {
	return signalOut(TypeAnswer, from, m.SDP, m.TargetID)
}

func signalOut(typ string, from Sender, sdp string, target domain.UserID) SignalOut {
	return SignalOut{
		Type:          typ,
		SDP:           sdp,
		SenderID:      from.User.ID,
		SenderName:    from.User.Username,
		SenderSession: from.SessionID,
		TargetID:      target,
	}
}

func NewCandidate(from Sender, m IceCandidate) CandidateOut {
	return CandidateOut{
		Type:          TypeIceCandidate,
		Candidate:     m.Candidate,
		SenderID:      from.User.ID,
		SenderName:    from.User.Username,
		SenderSession: from.SessionID,
		TargetID:      m.TargetID,
	}
}

func NewUserJoined(from Sender) PresenceOut {
	return PresenceOut{
		Type:      TypeUserJoined,
		UserID:    from.User.ID,
		Username:  from.User.Username,
		Email:     from.User.Email,
		SessionID: from.SessionID,
	}
}

func NewUserLeft(from Sender) PresenceOut {
	return PresenceOut{
		Type:      TypeUserLeft,
		UserID:    from.User.ID,
		Username:  from.User.Username,
		SessionID: from.SessionID,
	}
}

// NewCallEvent builds call-joined / call-left. A missing client timestamp is
// replaced with the server time.
func NewCallEvent(typ string, from Sender, ts json.RawMessage, now time.Time) CallOut {
	if ts == nil {
		ts, _ = json.Marshal(now.UTC().Format(time.RFC3339Nano))
	}
	return CallOut{
		Type:      typ,
		UserID:    from.User.ID,
		Username:  from.User.Username,
		SessionID: from.SessionID,
		Timestamp: ts,
	}
}

func NewRoomState(room domain.RoomID, self core.SessionID, members []core.MemberDTO) RoomStateOut {
	return RoomStateOut{Type: TypeRoomState, RoomID: room, SessionID: self, Members: members}
}

func NewError(reason string) ErrorOut {
	return ErrorOut{Type: TypeError, Message: reason}
}

func NewPong() PongOut {
	return PongOut{Type: TypePong}
}

// Encode marshals an outbound message into a frame.
func Encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
