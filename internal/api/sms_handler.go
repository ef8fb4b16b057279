package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pccr10001/trunkie/internal/gsm"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/pkg/logger"
)

type SMSHandler struct {
	db *gorm.DB
}

func NewSMSHandler(db *gorm.DB) *SMSHandler {
	return &SMSHandler{db: db}
}

func (h *SMSHandler) ListSMS(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	allowed := allowedBoards(user)
	limit := queryInt(c, "limit", 20)
	page := queryInt(c, "page", 1)

	query := h.db.Model(&model.SMS{})

	if serial := c.Query("board"); serial != "" {
		if !canAccess(user, serial) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this board"})
			return
		}
		query = query.Where("board_serial = ?", serial)
	} else if allowed != nil {
		if len(allowed) == 0 {
			query = query.Where("1 = 0")
		} else {
			query = query.Where("board_serial IN ?", allowed)
		}
	}

	var total int64
	query.Count(&total)

	var smsList []model.SMS
	offset := (page - 1) * limit
	if err := query.Order("timestamp desc").Limit(limit).Offset(offset).Find(&smsList).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Messages stored before their PDU could be decoded get a second chance here.
	for i, s := range smsList {
		if s.Content != "" || s.Phone != "" || s.RawPDU == "" {
			continue
		}
		msg, err := gsm.DecodeHex(s.RawPDU, true)
		if err != nil {
			logger.Log.Warnf("[%s] Failed to decode stored PDU %d: %v", s.BoardSerial, s.ID, err)
			continue
		}
		smsList[i].Content = msg.Text
		smsList[i].Phone = msg.From
		h.db.Model(&smsList[i]).Updates(map[string]any{"content": msg.Text, "phone": msg.From})
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  smsList,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *SMSHandler) MarkRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var sms model.SMS
	if err := h.db.First(&sms, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "SMS not found"})
		return
	}
	if !canAccess(user, sms.BoardSerial) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this board"})
		return
	}
	if err := h.db.Model(&sms).Update("is_read", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
