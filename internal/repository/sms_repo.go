package repository

import (
	"github.com/pccr10001/trunkie/internal/model"
	"gorm.io/gorm"
)

type SMSRepository struct {
	db *gorm.DB
}

func NewSMSRepository(db *gorm.DB) *SMSRepository {
	return &SMSRepository{db: db}
}

func (r *SMSRepository) Create(sms *model.SMS) error {
	return r.db.Create(sms).Error
}

func (r *SMSRepository) FindByBoard(serial string) ([]model.SMS, error) {
	var smsList []model.SMS
	err := r.db.Where("board_serial = ?", serial).Order("timestamp desc").Find(&smsList).Error
	return smsList, err
}

func (r *SMSRepository) MarkRead(id uint) error {
	return r.db.Model(&model.SMS{}).Where("id = ?", id).Update("is_read", true).Error
}
