package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pccr10001/trunkie/internal/repository"
)

type CDRHandler struct {
	repo *repository.CallRecordRepository
}

func NewCDRHandler(repo *repository.CallRecordRepository) *CDRHandler {
	return &CDRHandler{repo: repo}
}

// ListCalls pages through finished calls, newest first.
func (h *CDRHandler) ListCalls(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	f := repository.CallFilter{
		Boards:    allowedBoards(user),
		Direction: c.Query("direction"),
		Number:    c.Query("number"),
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
	}
	if serial := c.Query("board"); serial != "" {
		if !canAccess(user, serial) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this board"})
			return
		}
		f.Boards = []string{serial}
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = t
	}

	list, total, err := h.repo.List(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  list,
		"total": total,
		"page":  f.Page,
		"limit": f.Limit,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}
