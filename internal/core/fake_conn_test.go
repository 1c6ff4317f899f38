package core

import (
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	limit  int
	closed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close(int, string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestSession(sid, uid string) (MemberSession, *fakeConn) {
	conn := &fakeConn{}
	user := &domain.User{ID: domain.UserID(uid), Username: uid}
	return NewMemberSession(SessionID(sid), "m1", domain.NewMember(user), conn), conn
}
