package app

import (
	"errors"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrRoomMismatch = errors.New("session bound to another room")

// RoomManagerImpl is the room registry. The map lock only guards lookups
// and insert/delete of rooms; membership and fan-out use each room's own
// lock, so traffic in one meeting never waits on another.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]core.RoomService)}
}

var _ core.RoomManager = (*RoomManagerImpl)(nil)

// Join adds ms to the room, creating the room on first join. A room that
// was emptied concurrently is closed; Join then retries against a fresh one.
func (f *RoomManagerImpl) Join(id domain.RoomID, ms core.MemberSession) (core.RoomService, error) {
	if ms.RoomID() != id {
		return nil, ErrRoomMismatch
	}
	for {
		room := f.getOrCreate(id)
		err := room.AddMember(ms)
		if errors.Is(err, core.ErrRoomClosed) {
			f.remove(id, room)
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
}

// Leave is a no-op for unknown rooms or sessions.
func (f *RoomManagerImpl) Leave(id domain.RoomID, sid core.SessionID) bool {
	room, ok := f.GetRoom(id)
	if !ok {
		return false
	}
	removed, empty := room.RemoveMember(sid)
	if empty {
		f.remove(id, room)
	}
	return removed
}

func (f *RoomManagerImpl) Broadcast(id domain.RoomID, data core.Frame, exclude core.SessionID) core.PublishResult {
	room, ok := f.GetRoom(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.Broadcast(exclude, data)
}

func (f *RoomManagerImpl) SendToUser(id domain.RoomID, uid domain.UserID, data core.Frame) core.PublishResult {
	room, ok := f.GetRoom(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.SendToUser(uid, data)
}

func (f *RoomManagerImpl) Relay(id domain.RoomID, from core.SessionID, target domain.UserID, echo bool, data core.Frame) core.PublishResult {
	room, ok := f.GetRoom(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.Relay(from, target, echo, data)
}

func (f *RoomManagerImpl) GetRoom(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}

func (f *RoomManagerImpl) getOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(id)
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

// remove deletes the entry only if it still points at room; a newer room
// under the same id is left alone.
func (f *RoomManagerImpl) remove(id domain.RoomID, room core.RoomService) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rooms[id]; ok && cur == room {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	}
}
