package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pccr10001/trunkie/internal/logic"
	"github.com/pccr10001/trunkie/internal/model"
	"github.com/pccr10001/trunkie/internal/repository"
)

type WebhookHandler struct {
	repo *repository.WebhookRepository
}

func NewWebhookHandler(repo *repository.WebhookRepository) *WebhookHandler {
	return &WebhookHandler{repo: repo}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	list, err := h.repo.FindByBoard(c.DefaultQuery("board", "*"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var wh model.Webhook
	if err := c.ShouldBindJSON(&wh); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wh.ID = 0
	wh.Enabled = true
	if wh.BoardSerial == "" {
		wh.BoardSerial = "*"
	}
	if wh.Event == "" {
		wh.Event = logic.EventSMS
	}
	if wh.Platform == "" {
		wh.Platform = logic.PlatformGeneric
	}
	if err := validateWebhook(&wh); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.Create(&wh); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, wh)
}

// UpdateWebhook toggles a hook or changes its target and template.
func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	wh, err := h.repo.FindByID(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return
	}

	var req struct {
		URL      *string `json:"url"`
		Template *string `json:"template"`
		Enabled  *bool   `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.URL != nil {
		wh.URL = *req.URL
	}
	if req.Template != nil {
		wh.Template = *req.Template
	}
	if req.Enabled != nil {
		wh.Enabled = *req.Enabled
	}
	if err := validateWebhook(wh); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.Save(wh); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wh)
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func webhookID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func validateWebhook(wh *model.Webhook) error {
	u, err := url.Parse(wh.URL)
	if wh.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http(s) url")
	}
	switch wh.Event {
	case logic.EventSMS, logic.EventCall:
	default:
		return errors.New("event must be sms or call")
	}
	switch wh.Platform {
	case logic.PlatformGeneric, logic.PlatformTelegram, logic.PlatformSlack:
	default:
		return errors.New("platform must be generic, telegram or slack")
	}
	return nil
}
