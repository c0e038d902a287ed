// Package api is the REST gateway. Handlers translate requests into match.Service
// calls and typed game errors into status codes.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/match"
)

type Handler struct {
	svc *match.Service
}

func New(svc *match.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts every route under /api.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("", h.listSessions)
		sessions.GET("/:id", h.getSession)
		sessions.POST("/:id/join", h.joinSession)
		sessions.POST("/:id/rounds", h.submitRound)
		sessions.GET("/:id/rounds", h.listRounds)
		sessions.GET("/:id/leaderboard", h.leaderboard)
		sessions.GET("/:id/chat", h.chatHistory)
		sessions.POST("/:id/chat", h.postChat)
		sessions.POST("/:id/turn", h.startTurn)
		sessions.POST("/:id/rematch", h.rematch)
		sessions.DELETE("/:id/players/:playerId", h.quit)
	}

	api.POST("/solo", h.saveSolo)

	rankings := api.Group("/rankings")
	{
		rankings.GET("/global", h.globalRankings)
		rankings.GET("/country/:country", h.countryRankings)
		rankings.GET("/solo", h.soloRankings)
		rankings.GET("/solo/rank", h.soloRank)
	}
}

// statusFor maps a typed game error to an HTTP status and a message safe to show.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, game.ErrAuth):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, game.ErrInvalidState), errors.Is(err, game.ErrCapacity):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func meta(c *gin.Context) game.PlayerMeta {
	return game.PlayerMeta{Country: c.GetHeader("X-Country"), IP: c.ClientIP()}
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func clamp(v, lo, hi int) int {
	if v == 0 {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
