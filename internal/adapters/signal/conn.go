package signal

import (
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/gorilla/websocket"
)

// WsSignalConn is the outbound side of one WebSocket. Producers never block:
// frames go into a bounded queue that a single write pump drains.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}

	// dropOldest evicts the oldest queued frame instead of reporting
	// backpressure. onDrop is called for every evicted frame.
	dropOldest bool
	onDrop     func()

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func newWsSignalConn(ws *websocket.Conn, queue int, dropOldest bool, onDrop func()) *WsSignalConn {
	return &WsSignalConn{
		conn:       ws,
		send:       make(chan core.Frame, queue),
		done:       make(chan struct{}),
		dropOldest: dropOldest,
		onDrop:     onDrop,
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
	}
	if !c.dropOldest {
		return core.ErrBackpressure
	}
	select {
	case <-c.send:
		if c.onDrop != nil {
			c.onDrop()
		}
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close asks the write pump to send a close frame with code and shut the
// socket. It does not block and only the first call counts.
func (c *WsSignalConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeReason = code, reason
	close(c.done)
}

func (c *WsSignalConn) closeRequest() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closed && c.closeCode != 0
}
