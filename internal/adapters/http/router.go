package http

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Meet/internal/adapters/rtc"
	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/auth"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName  = "MeetSession"
	keyUserID    = "user_id"
	keyUsername  = "username"
	keyUserEmail = "email"
)

// PrincipalMiddleware restores the user stored by a cookie login, if any.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		if id, ok := s.Get(keyUserID).(string); ok && id != "" {
			name, _ := s.Get(keyUsername).(string)
			email, _ := s.Get(keyUserEmail).(string)
			if user, err := domain.NewUser(id, name, email); err == nil {
				c.Set(signal.PrincipalKey, user)
			}
		}
		c.Next()
	}
}

// AdminMiddleware guards introspection and forced-close routes with a
// static bearer token. Without a configured token the routes are closed.
func AdminMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin api disabled"})
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func cookieSecret(secret string) []byte {
	if secret != "" {
		return []byte(secret)
	}
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	log.Warn().Str("module", "adapters.http").Msg("no cookie secret configured, sessions will not survive a restart")
	return b
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, verifier auth.Verifier) (*gin.Engine, error) {
	iceConfig, err := rtc.WebRTCConfig(cfg.ICEServers)
	if err != nil {
		return nil, err
	}

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore(cookieSecret(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   cfg.Mode == "release",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(PrincipalMiddleware())

	ctrl := signal.NewSignalWSController(o, verifier, signal.OptionsFromConfig(cfg))
	ws := func(c *gin.Context) { ctrl.HandleSignal(ctx, c) }
	r.GET("/ws/meeting/:room_id", ws)
	r.GET("/ws/meeting/:room_id/", ws)

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"message":   "meeting signaling relay is running",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"rooms":     o.Rooms.Len(),
			"sessions":  o.Registry.Len(),
		})
	})
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceConfig.ICEServers})
	})

	api.POST("/session", func(c *gin.Context) {
		user, err := auth.Authenticate(verifier, c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		s := sessions.Default(c)
		s.Set(keyUserID, string(user.ID))
		s.Set(keyUsername, user.Username)
		s.Set(keyUserEmail, user.Email)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session not saved"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("cookie login")
		c.JSON(http.StatusOK, user)
	})
	api.GET("/session", func(c *gin.Context) {
		v, ok := c.Get(signal.PrincipalKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.JSON(http.StatusOK, v)
	})
	api.DELETE("/session", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		s.Options(sessions.Options{Path: "/", MaxAge: -1})
		_ = s.Save()
		c.Status(http.StatusNoContent)
	})

	admin := api.Group("/rooms", AdminMiddleware(cfg.AdminToken))
	admin.GET("/:room_id", func(c *gin.Context) {
		room, ok := o.Rooms.GetRoom(domain.RoomID(c.Param("room_id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, core.RoomInfo{
			ID:          room.Room().ID,
			CreatedAt:   room.Room().CreatedAt,
			MemberCount: room.MemberCount(),
			Members:     room.MembersSnapshot(),
		})
	})
	admin.DELETE("/:room_id/sessions/:session_id", func(c *gin.Context) {
		var sess core.MemberSession
		room, ok := o.Rooms.GetRoom(domain.RoomID(c.Param("room_id")))
		if ok {
			sess, ok = room.Member(core.SessionID(c.Param("session_id")))
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		o.Kick(sess, protocol.CloseKicked, "removed by admin")
		c.Status(http.StatusNoContent)
	})
	admin.DELETE("/:room_id", func(c *gin.Context) {
		n := o.EvictRoom(domain.RoomID(c.Param("room_id")), protocol.CloseKicked, "meeting closed")
		c.JSON(http.StatusOK, gin.H{"closed": n})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(o.Metrics.Handler()))
	}

	log.Info().Str("module", "adapters.http").Bool("metrics", cfg.Metrics.Enabled).Msg("router setup")
	return r, nil
}
