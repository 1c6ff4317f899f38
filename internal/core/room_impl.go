package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[SessionID]MemberSession
	closed bool
}

func NewRoomService(id domain.RoomID) RoomService {
	return &roomImpl{
		room:  &domain.Room{ID: id, CreatedAt: time.Now()},
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Member(sid SessionID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *roomImpl) AddMember(ms MemberSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.bySID[ms.ID()]; ok {
		return ErrDuplicateSession
	}
	r.bySID[ms.ID()] = ms
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(ms.ID())).Str("user", string(ms.Meta().User.ID)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(sid SessionID) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; ok {
		delete(r.bySID, sid)
		removed = true
	}
	if len(r.bySID) == 0 {
		r.closed = true
		empty = true
	}
	if removed {
		log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Bool("empty", empty).Msg("member removed")
	}
	return removed, empty
}

func (r *roomImpl) Broadcast(exclude SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.broadcastLocked(exclude, data)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("exclude", string(exclude)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendToUser(uid domain.UserID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.sendToUserLocked(uid, data)
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("target", string(uid)).Int("sent_to", res.SendTo).Msg("targeted result")
	return res
}

func (r *roomImpl) Relay(from SessionID, target domain.UserID, echo bool, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.bySID[from]; !ok {
		log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(from)).Msg("relay from non-member dropped")
		return PublishResult{}
	}
	var res PublishResult
	switch {
	case target != "":
		res = r.sendToUserLocked(target, data)
	case echo:
		res = r.broadcastLocked("", data)
	default:
		res = r.broadcastLocked(from, data)
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(from)).Str("target", string(target)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("relay result")
	return res
}

func (r *roomImpl) broadcastLocked(exclude SessionID, data Frame) PublishResult {
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == exclude {
			continue
		}
		r.deliver(m, data, &res)
	}
	return res
}

func (r *roomImpl) sendToUserLocked(uid domain.UserID, data Frame) PublishResult {
	res := PublishResult{}
	for _, m := range r.bySID {
		if m.Meta().User.ID != uid {
			continue
		}
		r.deliver(m, data, &res)
	}
	return res
}

// deliver only queues; the transport write happens in the session's own
// write loop, never under the room lock.
func (r *roomImpl) deliver(m MemberSession, data Frame, res *PublishResult) {
	switch err := m.Signal().TrySend(data); err {
	case nil:
		res.SendTo++
	case ErrBackpressure:
		res.Dropped = append(res.Dropped, m)
	}
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for sid, ms := range r.bySID {
		u := ms.Meta().User
		out = append(out, MemberDTO{SessionID: sid, UserID: u.ID, Username: u.Username})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
