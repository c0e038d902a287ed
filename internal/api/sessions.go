package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/hueduel/internal/game"
	"github.com/kiliankoe/hueduel/internal/match"
)

func (h *Handler) createSession(c *gin.Context) {
	var cfg game.SessionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid session config")
		return
	}
	cfg.MaxPlayers = clamp(cfg.MaxPlayers, game.MinPlayers, game.MaxPlayers)
	cfg.TotalRounds = clamp(cfg.TotalRounds, game.MinRounds, game.MaxRounds)
	v, err := h.svc.Create(cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.svc.ActiveSessions()})
}

func (h *Handler) getSession(c *gin.Context) {
	v, err := h.svc.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) joinSession(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid join request")
		return
	}
	p, err := h.svc.Join(c.Param("id"), req.Username, req.Password, meta(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) submitRound(c *gin.Context) {
	var sub match.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, "invalid round")
		return
	}
	sub.SessionID = c.Param("id")
	res, err := h.svc.Submit(sub, "")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listRounds(c *gin.Context) {
	rounds, err := h.svc.Rounds(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (h *Handler) leaderboard(c *gin.Context) {
	lb, err := h.svc.Leaderboard(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (h *Handler) chatHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, "limit must be a number")
		return
	}
	msgs, err := h.svc.ChatHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) postChat(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId"`
		Username string `json:"username"`
		Message  string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid chat message")
		return
	}
	msg, err := h.svc.Chat(c.Param("id"), req.PlayerID, req.Username, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) startTurn(c *gin.Context) {
	turn, err := h.svc.StartTurn(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) rematch(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid rematch request")
		return
	}
	vote, err := h.svc.Rematch(c.Param("id"), req.PlayerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, vote)
}

func (h *Handler) quit(c *gin.Context) {
	if _, err := h.svc.Quit(c.Param("id"), c.Param("playerId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
