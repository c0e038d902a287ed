package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/hueduel/internal/match"
)

func (h *Handler) saveSolo(c *gin.Context) {
	var req match.SoloResult
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid solo result")
		return
	}
	g, err := h.svc.SaveSolo(c.Request.Context(), req, meta(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) globalRankings(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, "limit must be a number")
		return
	}
	rankings, err := h.svc.GlobalRankings(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": rankings})
}

func (h *Handler) countryRankings(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, "limit must be a number")
		return
	}
	rankings, err := h.svc.CountryRankings(c.Request.Context(), c.Param("country"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": rankings})
}

func (h *Handler) soloRankings(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		badRequest(c, "limit must be a number")
		return
	}
	games, err := h.svc.SoloRankings(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": games})
}

func (h *Handler) soloRank(c *gin.Context) {
	score, ok := queryInt(c, "score")
	if !ok || c.Query("score") == "" {
		badRequest(c, "score is required")
		return
	}
	standing, err := h.svc.SoloRank(c.Request.Context(), c.Query("username"), score)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, standing)
}
