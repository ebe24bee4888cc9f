// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"doclens-go/internal/model"

	"gorm.io/gorm"
)

// SearchHistoryRepository 定义了检索历史的持久化操作。历史记录只追加不修改，
// 唯一的例外是用户对单条回答的有用性反馈。
type SearchHistoryRepository interface {
	Create(record *model.SearchHistory) error
	FindByUser(userID uint, limit int) ([]model.SearchHistory, error)
	SetHelpful(id uint, userID uint, helpful bool) error
}

type searchHistoryRepository struct {
	db *gorm.DB
}

// NewSearchHistoryRepository 创建一个新的 SearchHistoryRepository 实例。
func NewSearchHistoryRepository(db *gorm.DB) SearchHistoryRepository {
	return &searchHistoryRepository{db: db}
}

// Create 写入一条检索历史。
func (r *searchHistoryRepository) Create(record *model.SearchHistory) error {
	return r.db.Create(record).Error
}

// FindByUser 查找用户最近的检索历史，按时间倒序。
func (r *searchHistoryRepository) FindByUser(userID uint, limit int) ([]model.SearchHistory, error) {
	var records []model.SearchHistory
	if limit <= 0 {
		limit = 20
	}
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// SetHelpful 记录用户对某条回答的反馈。
func (r *searchHistoryRepository) SetHelpful(id uint, userID uint, helpful bool) error {
	return r.db.Model(&model.SearchHistory{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("was_helpful", helpful).Error
}
