// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"doclens-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository 接口定义了文档及其页面、分块的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByIDAndOwner(id string, ownerID uint) (*model.Document, error)
	FindByOwner(ownerID uint) ([]model.Document, error)
	FindBatchByIDs(ids []string) ([]*model.Document, error)

	// ClaimForProcessing 以 check-and-set 方式把 pending 文档切换为 processing。
	// 返回 false 表示未抢到租约（已在处理中、已完成或不存在）。
	ClaimForProcessing(id string) (bool, error)
	// ReleaseStale 把停留在 processing 超过阈值的文档重置为 pending，
	// 返回被重置的文档 ID，供对账扫描重新入队。
	ReleaseStale(olderThan time.Time) ([]string, error)
	SetParserMode(id string, mode string) error
	MarkCompleted(id string, totalPages int) error
	MarkFailed(id string, reason string) error

	UpsertPage(page *model.DocumentPage) error
	UpdatePageAnnotation(documentID string, pageNumber int, description *string, hasChart, hasTable, hasImage bool) error
	FindPages(documentID string) ([]model.DocumentPage, error)
	FindPage(documentID string, pageNumber int) (*model.DocumentPage, error)
	FindPagesByDocuments(documentIDs []string) ([]model.DocumentPage, error)

	ReplaceChunks(documentID string, chunks []*model.DocumentChunk) error
	SetChunkVectorID(documentID string, chunkIndex int, vectorID string) error
	ClearChunkVectorIDs(documentID string) error
	FindChunks(documentID string) ([]model.DocumentChunk, error)
	FindChunksByVectorIDs(vectorIDs []string) ([]*model.DocumentChunk, error)
	CountChunksMissingVector(documentID string) (int64, error)

	// DeleteCascade 删除文档及其页面与分块记录（向量与对象由调用方清理）。
	DeleteCascade(id string, ownerID uint) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一个新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找文档。
func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByIDAndOwner 根据 ID 与所有者查找文档，用于所有权校验。
func (r *documentRepository) FindByIDAndOwner(id string, ownerID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwner 查找指定用户的所有文档，按创建时间倒序。
func (r *documentRepository) FindByOwner(ownerID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("owner_id = ?", ownerID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// FindBatchByIDs 批量查找文档。
func (r *documentRepository) FindBatchByIDs(ids []string) ([]*model.Document, error) {
	var docs []*model.Document
	if len(ids) == 0 {
		return docs, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&docs).Error
	return docs, err
}

// ClaimForProcessing 原子地把文档从 pending 切换为 processing。
// 租约持久化在状态字段上，进程重启后依旧有效，多个 worker 间也成立。
func (r *documentRepository) ClaimForProcessing(id string) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.DocStatusPending).
		Updates(map[string]interface{}{"status": model.DocStatusProcessing, "processing_error": nil})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseStale 把超时停留在 processing 的文档重置为 pending。
func (r *documentRepository) ReleaseStale(olderThan time.Time) ([]string, error) {
	var stale []model.Document
	err := r.db.Where("status = ? AND updated_at < ?", model.DocStatusProcessing, olderThan).Find(&stale).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stale))
	for _, doc := range stale {
		res := r.db.Model(&model.Document{}).
			Where("id = ? AND status = ? AND updated_at < ?", doc.ID, model.DocStatusProcessing, olderThan).
			Update("status", model.DocStatusPending)
		if res.Error != nil {
			return ids, res.Error
		}
		if res.RowsAffected == 1 {
			ids = append(ids, doc.ID)
		}
	}
	return ids, nil
}

// SetParserMode 记录本次摄取使用的解析模式（结构化或降级）。
func (r *documentRepository) SetParserMode(id string, mode string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Update("parser_mode", mode).Error
}

// MarkCompleted 把文档置为 completed，并写入总页数与完成时间。
func (r *documentRepository) MarkCompleted(id string, totalPages int) error {
	now := time.Now()
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           model.DocStatusCompleted,
		"total_pages":      totalPages,
		"processed_at":     now,
		"processing_error": nil,
	}).Error
}

// MarkFailed 把文档置为 failed，并写入可读的失败原因。
func (r *documentRepository) MarkFailed(id string, reason string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           model.DocStatusFailed,
		"processing_error": reason,
	}).Error
}

// UpsertPage 按 (document_id, page_number) 幂等写入页面记录。
// 重新摄取时覆盖旧行而不是盲目追加。
func (r *documentRepository) UpsertPage(page *model.DocumentPage) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "page_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"image_path", "width", "height",
			"vision_description", "has_chart", "has_table", "has_image",
		}),
	}).Create(page).Error
}

// UpdatePageAnnotation 写入单页的视觉理解结果。
func (r *documentRepository) UpdatePageAnnotation(documentID string, pageNumber int, description *string, hasChart, hasTable, hasImage bool) error {
	return r.db.Model(&model.DocumentPage{}).
		Where("document_id = ? AND page_number = ?", documentID, pageNumber).
		Updates(map[string]interface{}{
			"vision_description": description,
			"has_chart":          hasChart,
			"has_table":          hasTable,
			"has_image":          hasImage,
		}).Error
}

// FindPages 查找文档的所有页面，按页码升序。
func (r *documentRepository) FindPages(documentID string) ([]model.DocumentPage, error) {
	var pages []model.DocumentPage
	err := r.db.Where("document_id = ?", documentID).Order("page_number asc").Find(&pages).Error
	return pages, err
}

// FindPage 查找文档的指定页。
func (r *documentRepository) FindPage(documentID string, pageNumber int) (*model.DocumentPage, error) {
	var page model.DocumentPage
	err := r.db.Where("document_id = ? AND page_number = ?", documentID, pageNumber).First(&page).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// FindPagesByDocuments 批量查找多个文档的页面，供检索阶段组装引用。
func (r *documentRepository) FindPagesByDocuments(documentIDs []string) ([]model.DocumentPage, error) {
	var pages []model.DocumentPage
	if len(documentIDs) == 0 {
		return pages, nil
	}
	err := r.db.Where("document_id IN ?", documentIDs).Find(&pages).Error
	return pages, err
}

// ReplaceChunks 先清空文档既有分块再批量写入，保证重新摄取不会累计膨胀。
func (r *documentRepository) ReplaceChunks(documentID string, chunks []*model.DocumentChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error
	})
}

// SetChunkVectorID 在向量索引确认写入后回填 vector_id。
func (r *documentRepository) SetChunkVectorID(documentID string, chunkIndex int, vectorID string) error {
	return r.db.Model(&model.DocumentChunk{}).
		Where("document_id = ? AND chunk_index = ?", documentID, chunkIndex).
		Update("vector_id", vectorID).Error
}

// ClearChunkVectorIDs 清空文档所有分块的 vector_id（失败清理后调用）。
func (r *documentRepository) ClearChunkVectorIDs(documentID string) error {
	return r.db.Model(&model.DocumentChunk{}).
		Where("document_id = ?", documentID).
		Update("vector_id", nil).Error
}

// FindChunks 查找文档的所有分块，按 chunk_index 升序。
func (r *documentRepository) FindChunks(documentID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.Where("document_id = ?", documentID).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// FindChunksByVectorIDs 根据向量 ID 批量反查分块，供检索阶段解析命中。
func (r *documentRepository) FindChunksByVectorIDs(vectorIDs []string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	if len(vectorIDs) == 0 {
		return chunks, nil
	}
	err := r.db.Where("vector_id IN ?", vectorIDs).Find(&chunks).Error
	return chunks, err
}

// CountChunksMissingVector 统计尚未拿到 vector_id 的分块数，用于完成校验。
func (r *documentRepository) CountChunksMissingVector(documentID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.DocumentChunk{}).
		Where("document_id = ? AND vector_id IS NULL", documentID).
		Count(&count).Error
	return count, err
}

// DeleteCascade 在一个事务里删除文档及其页面与分块记录。
func (r *documentRepository) DeleteCascade(id string, ownerID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&model.DocumentPage{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Document{}).Error
	})
}
