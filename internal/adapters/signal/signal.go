// Package signal serves the meeting signaling WebSocket: it authenticates
// the connection, hands the session to the orchestrator and pumps frames.
package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/auth"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// PrincipalKey is the gin context key under which an already
// authenticated user (cookie session) is stored.
const PrincipalKey = "principal"

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendQueueSize  int
	DropOldest     bool
	RateLimit      config.RateLimit
	AllowedOrigins []string
	AdmitTimeout   time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendQueueSize:  cfg.SendQueueSize,
		DropOldest:     cfg.OverflowPolicy == config.OverflowDropOldest,
		RateLimit:      cfg.RateLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		AdmitTimeout:   cfg.Access.Timeout,
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Verifier auth.Verifier

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, v auth.Verifier, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:     o,
		Verifier: v,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

// HandleSignal upgrades the request and runs one session until it ends.
// Rejections happen after the upgrade so the client sees a close code.
// ctx bounds the lifetime of the session.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	user, err := ctl.principal(c)
	if err != nil {
		ctl.Orch.Metrics.Rejected(metrics.RejectUnauthenticated)
		log.Info().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("unauthenticated")
		ctl.reject(ws, protocol.CloseUnauthenticated, "unauthenticated")
		return
	}
	roomID, err := domain.ParseRoomID(c.Param("room_id"))
	if err != nil {
		ctl.Orch.Metrics.Rejected(metrics.RejectBadRoom)
		log.Info().Err(err).Str("module", "signal").Str("user", string(user.ID)).Msg("bad room id")
		ctl.reject(ws, protocol.CloseBadRoom, "invalid room id")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := newWsSignalConn(ws, ctl.opts.SendQueueSize, ctl.opts.DropOldest, func() {
		ctl.Orch.Metrics.Overflow(config.OverflowDropOldest)
	})
	sess := core.NewMemberSession(sid, roomID, domain.NewMember(user), conn)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Str("room", string(roomID)).Msg("new WS connection")

	admitCtx, cancelAdmit := context.WithTimeout(c.Request.Context(), ctl.opts.AdmitTimeout)
	err = ctl.Orch.Admit(admitCtx, sess)
	cancelAdmit()
	if err != nil {
		ctl.reject(ws, protocol.CloseForbidden, "forbidden")
		return
	}

	sessCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(sessCtx, sess, conn)

	if err := ctl.Orch.Activate(sess, cancel); err != nil {
		code := protocol.CloseInternal
		if errors.Is(err, core.ErrDuplicateSession) {
			code = protocol.CloseDuplicateSession
		}
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("activate")
		conn.Close(code, err.Error())
		// The session never reached the registry, so nothing else cancels it.
		cancel()
		return
	}

	go ctl.readPump(sessCtx, sess, conn)
}

func (ctl *SignalWSController) principal(c *gin.Context) (*domain.User, error) {
	if v, ok := c.Get(PrincipalKey); ok {
		if u, ok := v.(*domain.User); ok && u != nil {
			return u, nil
		}
	}
	if ctl.Verifier == nil {
		return nil, auth.ErrUnauthenticated
	}
	return auth.Authenticate(ctl.Verifier, c.Request)
}

// reject closes a connection that never became a session.
func (ctl *SignalWSController) reject(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close")
	}
	_ = ws.Close()
}
