package access

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/domain"
)

type meeting struct {
	host         domain.UserID
	participants map[domain.UserID]struct{}
}

// Static is an in-memory membership table, loaded from config and
// adjustable at runtime.
type Static struct {
	mu       sync.RWMutex
	meetings map[domain.RoomID]*meeting
}

func NewStatic(rows []config.Meeting) *Static {
	s := &Static{meetings: make(map[domain.RoomID]*meeting)}
	for _, row := range rows {
		s.SetMeeting(domain.RoomID(row.ID), domain.UserID(row.Host), toUserIDs(row.Participants)...)
	}
	return s
}

func toUserIDs(in []string) []domain.UserID {
	out := make([]domain.UserID, 0, len(in))
	for _, s := range in {
		out = append(out, domain.UserID(s))
	}
	return out
}

// SetMeeting replaces the host and participant list of a meeting.
func (s *Static) SetMeeting(id domain.RoomID, host domain.UserID, participants ...domain.UserID) {
	m := &meeting{host: host, participants: make(map[domain.UserID]struct{}, len(participants))}
	for _, p := range participants {
		m.participants[p] = struct{}{}
	}
	s.mu.Lock()
	s.meetings[id] = m
	s.mu.Unlock()
}

func (s *Static) RemoveMeeting(id domain.RoomID) {
	s.mu.Lock()
	delete(s.meetings, id)
	s.mu.Unlock()
}

func (s *Static) Authorize(_ context.Context, uid domain.UserID, room domain.RoomID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[room]
	if !ok {
		return false
	}
	if m.host == uid {
		return true
	}
	_, ok = m.participants[uid]
	return ok
}
