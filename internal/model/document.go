// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"strconv"
	"strings"
	"time"
)

// Document 的处理状态。状态字段同时充当摄取租约：
// 只有从 pending 原子切换到 processing 成功的那一次摄取才允许继续。
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// 解析模式：structured 表示结构化解析服务成功；degraded 表示服务不可用，
// 已降级为纯文本抽取（无页面图片、无图表/表格识别）。
const (
	ParserModeStructured = "structured"
	ParserModeDegraded   = "degraded"
)

// Document 对应于数据库中的 documents 表，记录一次上传的 PDF 及其处理进度。
type Document struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID          uint       `gorm:"not null;index:idx_documents_owner_status" json:"ownerId"`
	OriginalFilename string     `gorm:"type:varchar(255);not null" json:"originalFilename"`
	StoredFilename   string     `gorm:"type:varchar(255);not null" json:"-"`
	StoragePath      string     `gorm:"type:varchar(512);not null" json:"-"`
	FileSize         int64      `gorm:"not null" json:"fileSize"`
	MimeType         string     `gorm:"type:varchar(100);not null" json:"mimeType"`
	Status           string     `gorm:"type:varchar(20);not null;default:pending;index:idx_documents_owner_status" json:"status"`
	ParserMode       string     `gorm:"type:varchar(20)" json:"parserMode"`
	TotalPages       *int       `gorm:"default:null" json:"totalPages"`
	ProcessingError  *string    `gorm:"type:text" json:"processingError"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	ProcessedAt      *time.Time `gorm:"default:null" json:"processedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentPage 对应于数据库中的 document_pages 表。
// 每页记录一张渲染图片的存储路径和视觉理解结果，用于可视化引用。
type DocumentPage struct {
	ID                uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID        string  `gorm:"type:varchar(36);not null;uniqueIndex:uk_pages_doc_page" json:"documentId"`
	PageNumber        int     `gorm:"not null;uniqueIndex:uk_pages_doc_page" json:"pageNumber"`
	ImagePath         string  `gorm:"type:varchar(512)" json:"-"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	VisionDescription *string `gorm:"type:text" json:"visionDescription"`
	HasChart          bool    `gorm:"not null;default:false" json:"hasChart"`
	HasTable          bool    `gorm:"not null;default:false" json:"hasTable"`
	HasImage          bool    `gorm:"not null;default:false" json:"hasImage"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentPage) TableName() string {
	return "document_pages"
}

// Chunk 类型：text 为普通文本分块；mixed 为来源于页面视觉描述的分块。
const (
	ChunkTypeText  = "text"
	ChunkTypeTable = "table"
	ChunkTypeMixed = "mixed"
)

// DocumentChunk 对应于数据库中的 document_chunks 表。
// VectorID 仅在向量索引确认写入成功后才会被回填；chunk_index 在单个文档内
// 连续且有序，是重新摄取幂等性的基础。
type DocumentChunk struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID  string    `gorm:"type:varchar(36);not null;index:idx_chunks_doc_index" json:"documentId"`
	ChunkIndex  int       `gorm:"not null;index:idx_chunks_doc_index" json:"chunkIndex"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	PageNumbers string    `gorm:"type:varchar(255)" json:"-"`
	VectorID    *string   `gorm:"type:varchar(64);index" json:"vectorId"`
	ChunkType   string    `gorm:"type:varchar(20);not null;default:text" json:"chunkType"`
	TokenCount  int       `json:"tokenCount"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// PageNumberList 将逗号分隔的页码字符串解析为有序整数切片。
func (c *DocumentChunk) PageNumberList() []int {
	return ParsePageNumbers(c.PageNumbers)
}

// SetPageNumbers 将页码切片序列化为逗号分隔的字符串。
func (c *DocumentChunk) SetPageNumbers(pages []int) {
	c.PageNumbers = JoinPageNumbers(pages)
}

// ParsePageNumbers 解析 "1,2,3" 形式的页码串，忽略非法片段。
func ParsePageNumbers(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	pages := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		pages = append(pages, n)
	}
	return pages
}

// JoinPageNumbers 把页码切片序列化为 "1,2,3" 形式。
func JoinPageNumbers(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}
