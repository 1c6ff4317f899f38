package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writePump is the only writer of the socket. It stops when the session is
// torn down or a close was requested, and it owns closing the socket, which
// in turn ends the read pump.
func (ctl *SignalWSController) writePump(ctx context.Context, sess core.MemberSession, c *WsSignalConn) {
	sid := string(sess.ID())
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		if code, reason, ok := c.closeRequest(); ok {
			ctl.flush(c)
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait))
		}
		_ = c.conn.Close()
		log.Debug().Str("module", "signal").Str("sid", sid).Msg("writePump done")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", sid).Msg("writePump write error")
				ctl.Orch.Disconnect(sess)
				return
			}
		case <-ticker.C:
			if err := ctl.write(c, websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", sid).Msg("writePump ping error")
				ctl.Orch.Disconnect(sess)
				return
			}
		}
	}
}

// flush writes what was queued before a close was requested, so an error
// reply reaches the client ahead of the close frame.
func (ctl *SignalWSController) flush(c *WsSignalConn) {
	for {
		select {
		case data := <-c.send:
			if err := ctl.write(c, websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// readPump feeds inbound frames to the orchestrator until the socket fails,
// then tears the session down.
func (ctl *SignalWSController) readPump(ctx context.Context, sess core.MemberSession, c *WsSignalConn) {
	sid := string(sess.ID())
	defer func() {
		ctl.Orch.Disconnect(sess)
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})
	limiter := NewSessionRateLimiter(ctl.opts.RateLimit)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Info().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !limiter.Allow() {
			ctl.Orch.Metrics.ProtocolError()
			ctl.Orch.Reply(sess, protocol.NewError("rate limited"))
			continue
		}
		if _, err := ctl.Orch.HandleFrame(sess, data); errors.Is(err, orch.ErrNotActive) {
			return
		}
	}
}
