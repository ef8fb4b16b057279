package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/pbx"
)

// CallHandler drives active calls through the built-in switch.
type CallHandler struct {
	sw  *pbx.Switch
	reg *board.Registry
}

func NewCallHandler(sw *pbx.Switch, reg *board.Registry) *CallHandler {
	return &CallHandler{sw: sw, reg: reg}
}

func (h *CallHandler) ListCalls(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	out := make([]pbx.CallView, 0)
	for _, v := range h.sw.Calls() {
		if canAccess(user, h.reg.SerialOf(v.Device)) {
			out = append(out, v)
		}
	}
	c.JSON(http.StatusOK, out)
}

// callFor checks the caller may touch the board the call runs on.
func (h *CallHandler) callFor(c *gin.Context) (string, bool) {
	user, ok := currentUser(c)
	if !ok {
		return "", false
	}
	id := c.Param("id")
	for _, v := range h.sw.Calls() {
		if v.ID != id {
			continue
		}
		if !canAccess(user, h.reg.SerialOf(v.Device)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this board"})
			return "", false
		}
		return id, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
	return "", false
}

func (h *CallHandler) Answer(c *gin.Context) {
	id, ok := h.callFor(c)
	if !ok {
		return
	}
	if err := h.sw.Answer(id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Answer failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *CallHandler) Hangup(c *gin.Context) {
	id, ok := h.callFor(c)
	if !ok {
		return
	}
	var req struct {
		Cause int `json:"cause"`
	}
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cause := pbx.Cause(req.Cause)
	if cause == 0 {
		cause = pbx.CauseNormalClearing
	}
	if !cause.Known() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown hangup cause %d", req.Cause)})
		return
	}
	if err := h.sw.Hangup(id, cause); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Hangup failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cause": cause.String()})
}

func (h *CallHandler) Digits(c *gin.Context) {
	id, ok := h.callFor(c)
	if !ok {
		return
	}
	var req struct {
		Digits string `json:"digits" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sw.SendDigits(id, req.Digits); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Digits failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *CallHandler) Transfer(c *gin.Context) {
	id, ok := h.callFor(c)
	if !ok {
		return
	}
	var req struct {
		Digits string `json:"digits" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sw.Transfer(id, req.Digits); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Transfer failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
