package http

import (
	"context"

	"github.com/dkeye/videoroom/internal/adapters/rtc"
	"github.com/dkeye/videoroom/internal/app/room"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is the part of room.Session the control API drives.
type Session interface {
	Join(ctx context.Context, address string, room domain.RoomID) error
	Leave() error
	Status() room.Status
	Handles() []core.HandleDTO
}

// Tracks lists the remote media being received.
type Tracks interface {
	Tracks() []rtc.TrackStatsDTO
}

// ClientTokenMiddleware gives every caller a stable token kept in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("client_token").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("client_token", token)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, sess Session, tracks Tracks) *gin.Engine {
	switch cfg.HTTP.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.HTTP.Mode)
	}

	r := gin.New()
	if cfg.HTTP.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.HTTP.Secret))
	r.Use(sessions.Sessions("roomctl", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{
		ctx:     ctx,
		cfg:     cfg,
		sess:    sess,
		tracks:  tracks,
		limiter: NewRateLimiter(cfg.HTTP.JoinLimit, cfg.HTTP.JoinWindow),
	}

	api := r.Group("/api")
	api.GET("/session", h.status)
	api.GET("/handles", h.handles)
	api.GET("/tracks", h.listTracks)
	api.POST("/join", h.join)
	api.POST("/leave", h.leave)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
