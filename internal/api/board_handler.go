package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pccr10001/trunkie/internal/board"
	"github.com/pccr10001/trunkie/internal/channel"
	"github.com/pccr10001/trunkie/internal/lock"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/pbx"
	"github.com/pccr10001/trunkie/internal/repository"
	"github.com/pccr10001/trunkie/internal/worker"
)

type BoardHandler struct {
	reg      *board.Registry
	boards   *repository.BoardRepository
	wm       *worker.Manager
	sw       *pbx.Switch
	messages *worker.Messages
}

type boardView struct {
	model.Board
	Online bool               `json:"online"`
	Queues worker.WorkerStats `json:"queues"`
}

func NewBoardHandler(reg *board.Registry, boards *repository.BoardRepository, wm *worker.Manager, sw *pbx.Switch, messages *worker.Messages) *BoardHandler {
	return &BoardHandler{reg: reg, boards: boards, wm: wm, sw: sw, messages: messages}
}

func (h *BoardHandler) view(b *board.Board) boardView {
	v := boardView{
		Board: model.Board{
			Serial:    b.Serial(),
			Device:    b.Device(),
			Signaling: b.Info.Signaling.String(),
			Channels:  len(b.Channels()),
			Status:    "online",
		},
		Online: true,
	}
	if stored, err := h.boards.FindBySerial(b.Serial()); err == nil {
		v.Name = stored.Name
		v.Operator = stored.Operator
		v.LastSeen = stored.LastSeen
	}
	for _, s := range h.wm.Stats() {
		if s.Device == b.Device() {
			v.Queues = s
		}
	}
	return v
}

func (h *BoardHandler) ListBoards(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	resp := make([]boardView, 0)
	for _, b := range h.reg.Boards() {
		if canAccess(user, b.Serial()) {
			resp = append(resp, h.view(b))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// boardFor resolves :serial and checks the caller may use it.
func (h *BoardHandler) boardFor(c *gin.Context) (*board.Board, bool) {
	user, ok := currentUser(c)
	if !ok {
		return nil, false
	}
	serial := c.Param("serial")
	if !canAccess(user, serial) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this board"})
		return nil, false
	}
	b, err := h.reg.BySerial(serial)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Board not found"})
		return nil, false
	}
	return b, true
}

func (h *BoardHandler) channelFor(c *gin.Context) (*channel.Channel, bool) {
	b, ok := h.boardFor(c)
	if !ok {
		return nil, false
	}
	obj, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return nil, false
	}
	ch, err := b.Channel(obj)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return ch, true
}

func (h *BoardHandler) GetBoard(c *gin.Context) {
	b, ok := h.boardFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(b))
}

func (h *BoardHandler) UpdateBoard(c *gin.Context) {
	b, ok := h.boardFor(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.boards.Rename(b.Serial(), req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update board"})
		return
	}
	c.JSON(http.StatusOK, h.view(b))
}

func (h *BoardHandler) ListChannels(c *gin.Context) {
	b, ok := h.boardFor(c)
	if !ok {
		return
	}
	snaps := make([]channel.Snapshot, 0, len(b.Channels()))
	for _, ch := range b.Channels() {
		snaps = append(snaps, ch.Snapshot())
	}
	c.JSON(http.StatusOK, snaps)
}

func (h *BoardHandler) GetChannel(c *gin.Context) {
	ch, ok := h.channelFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ch.Snapshot())
}

func (h *BoardHandler) Dial(c *gin.Context) {
	ch, ok := h.channelFor(c)
	if !ok {
		return
	}
	var req struct {
		Orig string `json:"orig"`
		Dest string `json:"dest" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.sw.Originate(ch, req.Orig, req.Dest)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Dial failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "call_id": id, "channel": ch.Snapshot()})
}

func (h *BoardHandler) SendSMS(c *gin.Context) {
	ch, ok := h.channelFor(c)
	if !ok {
		return
	}
	var req struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Phone number is required"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	ref, err := ch.SendSMS(req.Phone, req.Message)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Send SMS failed: " + err.Error()})
		return
	}
	if h.messages != nil {
		h.messages.Sent(ch.Device(), ch.Object(), req.Phone, req.Message)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ref": ref})
}

func (h *BoardHandler) Workers(c *gin.Context) {
	c.JSON(http.StatusOK, h.wm.Stats())
}

// statusFor maps driver errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case board.IsAddressError(err), errors.Is(err, pbx.ErrCallNotFound), errors.Is(err, channel.ErrNoCall):
		return http.StatusNotFound
	case channel.IsChannelBusyError(err), errors.Is(err, channel.ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, channel.ErrUnsupported):
		return http.StatusBadRequest
	case channel.IsQueueFullError(err), lock.IsLockFailedError(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
