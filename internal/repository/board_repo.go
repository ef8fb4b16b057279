package repository

import (
	"github.com/pccr10001/trunkie/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BoardRepository struct {
	db *gorm.DB
}

func NewBoardRepository(db *gorm.DB) *BoardRepository {
	return &BoardRepository{db: db}
}

func (r *BoardRepository) Upsert(board *model.Board) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.AssignmentColumns([]string{"device", "signaling", "channels", "status", "last_seen"}),
	}).Create(board).Error
}

func (r *BoardRepository) FindBySerial(serial string) (*model.Board, error) {
	var board model.Board
	err := r.db.First(&board, "serial = ?", serial).Error
	return &board, err
}

func (r *BoardRepository) List() ([]model.Board, error) {
	var list []model.Board
	err := r.db.Order("device asc").Find(&list).Error
	return list, err
}

func (r *BoardRepository) UpdateOperator(serial, operator string) error {
	return r.db.Model(&model.Board{}).Where("serial = ?", serial).Update("operator", operator).Error
}

func (r *BoardRepository) MarkAllOffline() {
	r.db.Model(&model.Board{}).Where("1 = 1").Update("status", "offline")
}

func (r *BoardRepository) Rename(serial, name string) error {
	return r.db.Model(&model.Board{}).Where("serial = ?", serial).Update("name", name).Error
}
