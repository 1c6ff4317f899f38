package orch

import (
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/access"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotActive     = errors.New("session not active")
)

// Orchestrator is the signaling router. It admits sessions through the
// access gate, registers them into rooms and relays their messages.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Gate     access.Gate
	Metrics  *metrics.Metrics

	// SDPCheck, when set, rejects offers and answers it returns an error for.
	SDPCheck func(sdp string) error
	Now      func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// HandleFrame parses and routes one inbound frame from sess. Protocol
// errors are answered to the sender only and returned; the connection
// stays open.
func (o *Orchestrator) HandleFrame(sess core.MemberSession, data []byte) (int, error) {
	if sess.State() != core.StateActive {
		return 0, ErrNotActive
	}
	msg, err := protocol.Parse(data)
	if err != nil {
		o.reject(sess, err)
		return 0, err
	}
	return o.Route(sess, msg)
}

// Route relays msg according to its kind and returns the number of
// sessions it was queued to.
func (o *Orchestrator) Route(sess core.MemberSession, msg protocol.Inbound) (int, error) {
	if sess.State() != core.StateActive {
		return 0, ErrNotActive
	}
	from := protocol.Sender{SessionID: sess.ID(), User: sess.Meta().User}

	var (
		out    any
		target domain.UserID
		// Call presence goes to every session, the sender's other tabs included.
		toAll bool
	)
	switch m := msg.(type) {
	case protocol.Offer:
		if err := o.checkSDP(m.SDP); err != nil {
			o.reject(sess, err)
			return 0, err
		}
		out, target = protocol.NewOffer(from, m), m.TargetID
	case protocol.Answer:
		if err := o.checkSDP(m.SDP); err != nil {
			o.reject(sess, err)
			return 0, err
		}
		out, target = protocol.NewAnswer(from, m), m.TargetID
	case protocol.IceCandidate:
		out, target = protocol.NewCandidate(from, m), m.TargetID
	case protocol.JoinCall:
		out, toAll = protocol.NewCallEvent(protocol.TypeCallJoined, from, m.Timestamp, o.now()), true
	case protocol.LeaveCall:
		out, toAll = protocol.NewCallEvent(protocol.TypeCallLeft, from, m.Timestamp, o.now()), true
	case protocol.Ping:
		o.reply(sess, protocol.NewPong())
		o.Metrics.Signal(string(m.Kind()), 0)
		return 0, nil
	default:
		err := &protocol.Error{Reason: "unsupported message"}
		o.reject(sess, err)
		return 0, err
	}

	frame, err := protocol.Encode(out)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("encode outbound")
		return 0, err
	}

	// Membership is rechecked under the room lock so a session closed
	// after the state check above relays nothing.
	res := o.Rooms.Relay(sess.RoomID(), sess.ID(), target, toAll, frame)
	if target != "" && res.SendTo == 0 && len(res.Dropped) == 0 {
		log.Debug().Str("module", "orch").Str("sid", string(sess.ID())).Str("target", string(target)).Msg("target not in room")
	}
	o.handleDropped(sess.RoomID(), res.Dropped)

	o.Metrics.Signal(string(msg.Kind()), res.SendTo)
	log.Debug().
		Str("module", "orch").
		Str("sid", string(sess.ID())).
		Str("room", string(sess.RoomID())).
		Str("kind", string(msg.Kind())).
		Int("sent_to", res.SendTo).
		Msg("routed")
	return res.SendTo, nil
}

func (o *Orchestrator) checkSDP(sdp string) error {
	if o.SDPCheck == nil {
		return nil
	}
	if err := o.SDPCheck(sdp); err != nil {
		return &protocol.Error{Reason: "invalid sdp", Err: err}
	}
	return nil
}

func (o *Orchestrator) reject(sess core.MemberSession, err error) {
	reason := "invalid message"
	var perr *protocol.Error
	if errors.As(err, &perr) {
		reason = perr.Reason
	}
	o.Metrics.ProtocolError()
	log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("protocol error")
	o.reply(sess, protocol.NewError(reason))
}

// Reply queues v to sess only.
func (o *Orchestrator) Reply(sess core.MemberSession, v any) { o.reply(sess, v) }

func (o *Orchestrator) reply(sess core.MemberSession, v any) {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode reply")
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("reply not queued")
		if errors.Is(err, core.ErrBackpressure) {
			o.handleDropped(sess.RoomID(), []core.MemberSession{sess})
		}
	}
}

// handleDropped applies the backpressure policy after the room lock has
// been released.
func (o *Orchestrator) handleDropped(roomID domain.RoomID, dropped []core.MemberSession) {
	if len(dropped) == 0 || o.Policy == nil {
		return
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.Metrics.Overflow("disconnect")
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Str("room", string(slow.RoomID())).Msg("slow consumer, disconnecting")
			o.Kick(slow, protocol.CloseSlowConsumer, "slow consumer")
		case app.NoAction:
		}
	}
}
