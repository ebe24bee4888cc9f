// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// SearchHistory 对应于数据库中的 search_history 表。
// 仅追加，检索成功完成后写入一条，供审计与分析使用。
type SearchHistory struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint      `gorm:"not null;index:idx_search_history_user_time" json:"userId"`
	Query           string    `gorm:"type:text;not null" json:"query"`
	Response        string    `gorm:"type:text" json:"response"`
	ChunksRetrieved int       `json:"chunksRetrieved"`
	ResponseTimeMs  int       `json:"responseTimeMs"`
	WasHelpful      *bool     `gorm:"default:null" json:"wasHelpful"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_search_history_user_time" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SearchHistory) TableName() string {
	return "search_history"
}

// RetrievedChunk 是检索阶段的中间结果：一个命中的分块及其引用材料。
type RetrievedChunk struct {
	DocumentID   string
	DocumentName string
	ChunkIndex   int
	Content      string
	ChunkType    string
	PageNumbers  []int
	Score        float64
	ImagePath    string
	PageHasChart bool
	PageHasTable bool
}

// Citation 定义了返回给前端的单条引用。
type Citation struct {
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	PageNumber   int     `json:"pageNumber"`
	ChunkContent string  `json:"chunkContent"`
	Score        float64 `json:"score"`
	ImageURL     string  `json:"imageUrl,omitempty"`
}

// SearchResultDTO 定义了一次问答检索的完整响应。
type SearchResultDTO struct {
	Answer           string     `json:"answer"`
	Citations        []Citation `json:"citations"`
	Query            string     `json:"query"`
	ProcessingTimeMs int        `json:"processingTimeMs"`
}
