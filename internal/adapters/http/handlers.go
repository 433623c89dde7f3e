package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type JoinRequest struct {
	Address string    `json:"address"`
	Room    domain.ID `json:"room"`
}

type handlers struct {
	ctx     context.Context
	cfg     *config.Config
	sess    Session
	tracks  Tracks
	limiter *RateLimiter
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.Status())
}

func (h *handlers) handles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"handles": h.sess.Handles()})
}

func (h *handlers) listTracks(c *gin.Context) {
	if h.tracks == nil {
		c.JSON(http.StatusOK, gin.H{"tracks": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": h.tracks.Tracks()})
}

// join (re)connects the session. The body is optional; missing fields fall
// back to the configured gateway and room.
func (h *handlers) join(c *gin.Context) {
	token := c.GetString("client_token")
	if !h.limiter.Allow(token) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}

	var req JoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid join request"})
			return
		}
	}
	if req.Address == "" {
		req.Address = h.cfg.Janus.URL
	}
	if req.Room.IsZero() {
		req.Room = domain.RoomID(h.cfg.Janus.Room)
	}

	log.Info().Str("module", "adapters.http").Str("client_token", token).Str("address", req.Address).Stringer("room", req.Room).Msg("join requested")
	err := h.sess.Join(h.ctx, req.Address, req.Room)
	switch {
	case errors.Is(err, core.ErrAlreadyStarted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, h.sess.Status())
	}
}

func (h *handlers) leave(c *gin.Context) {
	err := h.sess.Leave()
	if errors.Is(err, core.ErrNotConnected) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("leave requested")
	c.JSON(http.StatusAccepted, h.sess.Status())
}
