package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Meet/internal/access"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Admit runs the access gate for a connecting session. It is called on the
// connection's own goroutine and holds no shared lock while waiting.
func (o *Orchestrator) Admit(ctx context.Context, sess core.MemberSession) error {
	uid := sess.Meta().User.ID
	if o.Gate == nil || !o.Gate.Authorize(ctx, uid, sess.RoomID()) {
		sess.Transition(core.StateConnecting, core.StateClosed)
		o.Metrics.Rejected(metrics.RejectForbidden)
		log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("user", string(uid)).Str("room", string(sess.RoomID())).Msg("access denied")
		return access.ErrForbidden
	}
	if !sess.Transition(core.StateConnecting, core.StateAuthorized) {
		return ErrSessionClosed
	}
	return nil
}

// Activate registers an authorized session into its room, announces it to
// the other sessions and sends it the current room state. cancel is called
// when the session is torn down.
func (o *Orchestrator) Activate(sess core.MemberSession, cancel context.CancelFunc) error {
	sid, roomID := sess.ID(), sess.RoomID()
	if sess.State() != core.StateAuthorized {
		return ErrNotActive
	}
	room, err := o.Rooms.Join(roomID, sess)
	if err != nil {
		sess.Transition(core.StateAuthorized, core.StateClosed)
		if errors.Is(err, core.ErrDuplicateSession) {
			o.Metrics.Rejected(metrics.RejectDuplicate)
		}
		return err
	}
	o.Registry.Bind(sess, cancel)

	from := protocol.Sender{SessionID: sid, User: sess.Meta().User}
	o.broadcast(roomID, protocol.NewUserJoined(from), sid)

	if !sess.Transition(core.StateAuthorized, core.StateActive) {
		// Closed while joining; Disconnect left the cleanup to us.
		o.leave(sess)
		if c := o.Registry.Unbind(sid); c != nil {
			c()
		}
		return ErrSessionClosed
	}
	o.reply(sess, protocol.NewRoomState(roomID, sid, room.MembersSnapshot()))
	o.Metrics.SetOccupancy(o.Rooms.Len(), o.Registry.Len())

	user := sess.Meta().User
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(user.ID)).Str("room", string(roomID)).Msg("session active")
	return nil
}

// Disconnect tears sess down: it leaves its room and the room is told the
// user left. Every path that notices a dead session calls it; only the
// first call for a session has any effect.
func (o *Orchestrator) Disconnect(sess core.MemberSession) {
	switch {
	case sess.Transition(core.StateActive, core.StateClosed):
		o.leave(sess)
	case sess.Transition(core.StateAuthorized, core.StateClosed):
		// Activate is mid-flight and will undo its own join.
	case sess.Transition(core.StateConnecting, core.StateClosed):
	default:
		return
	}
	if cancel := o.Registry.Unbind(sess.ID()); cancel != nil {
		cancel()
	}
	o.Metrics.SetOccupancy(o.Rooms.Len(), o.Registry.Len())
}

func (o *Orchestrator) leave(sess core.MemberSession) {
	sid, roomID := sess.ID(), sess.RoomID()
	if !o.Rooms.Leave(roomID, sid) {
		return
	}
	from := protocol.Sender{SessionID: sid, User: sess.Meta().User}
	o.broadcast(roomID, protocol.NewUserLeft(from), sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(from.User.ID)).Str("room", string(roomID)).Msg("session left")
}

func (o *Orchestrator) broadcast(roomID domain.RoomID, v any, exclude core.SessionID) core.PublishResult {
	frame, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode broadcast")
		return core.PublishResult{}
	}
	res := o.Rooms.Broadcast(roomID, frame, exclude)
	o.Metrics.Delivered(res.SendTo)
	o.handleDropped(roomID, res.Dropped)
	return res
}

// Kick force-closes a session: the transport is closed with code and the
// session is torn down right away instead of waiting for its read loop.
func (o *Orchestrator) Kick(sess core.MemberSession, code int, reason string) {
	sess.Signal().Close(code, reason)
	o.Disconnect(sess)
}

func (o *Orchestrator) KickBySID(sid core.SessionID, code int, reason string) bool {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return false
	}
	o.Kick(sess, code, reason)
	return true
}

// EvictRoom force-closes every session in the room. Room members are
// walked as well as the registry: a session between Rooms.Join and
// Registry.Bind is only visible in the room.
func (o *Orchestrator) EvictRoom(id domain.RoomID, code int, reason string) int {
	targets := make(map[core.SessionID]core.MemberSession)
	for _, snap := range o.Registry.MembersOfRoom(id) {
		targets[snap.SID] = snap.Session
	}
	if room, ok := o.Rooms.GetRoom(id); ok {
		for _, m := range room.MembersSnapshot() {
			if sess, ok := room.Member(m.SessionID); ok {
				targets[m.SessionID] = sess
			}
		}
	}
	for _, sess := range targets {
		o.Kick(sess, code, reason)
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Int("sessions", len(targets)).Msg("room evicted")
	return len(targets)
}

// CloseAll force-closes every live session, used on shutdown.
func (o *Orchestrator) CloseAll(code int, reason string) {
	for _, snap := range o.Registry.All() {
		o.Kick(snap.Session, code, reason)
	}
}
