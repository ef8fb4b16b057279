package repository

import (
	"github.com/pccr10001/trunkie/internal/model"
	"gorm.io/gorm"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *model.Webhook) error {
	return r.db.Create(webhook).Error
}

// FindFor returns enabled hooks for the board and event, including wildcard hooks.
func (r *WebhookRepository) FindFor(serial, event string) ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Where("board_serial IN ? AND event = ? AND enabled = ?", []string{serial, "*"}, event, true).Find(&list).Error
	return list, err
}

func (r *WebhookRepository) FindByBoard(serial string) ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Where("board_serial = ?", serial).Find(&list).Error
	return list, err
}

func (r *WebhookRepository) FindByID(id uint) (*model.Webhook, error) {
	var wh model.Webhook
	if err := r.db.First(&wh, id).Error; err != nil {
		return nil, err
	}
	return &wh, nil
}

func (r *WebhookRepository) Save(webhook *model.Webhook) error {
	return r.db.Save(webhook).Error
}

func (r *WebhookRepository) Delete(id uint) error {
	res := r.db.Delete(&model.Webhook{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
