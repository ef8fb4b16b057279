package repository

import (
	"time"

	"github.com/pccr10001/trunkie/internal/model"
	"gorm.io/gorm"
)

type CallRecordRepository struct {
	db *gorm.DB
}

func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

func (r *CallRecordRepository) Create(rec *model.CallRecord) error {
	return r.db.Create(rec).Error
}

// CallFilter narrows List. Zero values match everything.
type CallFilter struct {
	Boards    []string // nil means any board
	Direction string
	Number    string // matches orig or dest
	Since     time.Time
	Page      int
	Limit     int
}

func (r *CallRecordRepository) List(f CallFilter) ([]model.CallRecord, int64, error) {
	query := r.db.Model(&model.CallRecord{})
	if f.Boards != nil {
		if len(f.Boards) == 0 {
			query = query.Where("1 = 0")
		} else {
			query = query.Where("board_serial IN ?", f.Boards)
		}
	}
	if f.Direction != "" {
		query = query.Where("direction = ?", f.Direction)
	}
	if f.Number != "" {
		query = query.Where("orig = ? OR dest = ?", f.Number, f.Number)
	}
	if !f.Since.IsZero() {
		query = query.Where("started_at >= ?", f.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	var list []model.CallRecord
	err := query.Order("started_at desc").Limit(f.Limit).Offset((f.Page - 1) * f.Limit).Find(&list).Error
	return list, total, err
}
