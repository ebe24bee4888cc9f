// Package service 提供了文档检索与问答相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"sort"

	"doclens-go/internal/model"
	"doclens-go/internal/repository"
	"doclens-go/pkg/embedding"
	"doclens-go/pkg/es"
	"doclens-go/pkg/log"
)

// VectorSearcher 是向量索引的查询入口。
type VectorSearcher interface {
	SearchByVector(ctx context.Context, vector []float32, ownerID uint, topK int, minScore float64) ([]es.Hit, error)
}

// RetrievalService 接口定义了向量检索操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, user *model.User, query string, topK int) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	searcher        VectorSearcher
	docRepo         repository.DocumentRepository
	minScore        float64
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embeddingClient embedding.Client, searcher VectorSearcher, docRepo repository.DocumentRepository, minScore float64) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		searcher:        searcher,
		docRepo:         docRepo,
		minScore:        minScore,
	}
}

// Retrieve 执行一次向量检索并将命中结果还原为带引用素材的分块。
// 空命中返回空切片而非错误，调用方据此生成"未检索到相关内容"的回答。
func (s *retrievalService) Retrieve(ctx context.Context, user *model.User, query string, topK int) ([]model.RetrievedChunk, error) {
	log.Infof("[RetrievalService] 开始检索, query: '%s', topK: %d, user: %s", query, topK, user.Username)

	// 1. 向量化查询。必须与摄取使用同一 Embedding 实现。
	log.Info("[RetrievalService] 步骤1: 开始向量化查询")
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[RetrievalService] 步骤1: 向量化查询成功, 向量维度: %d", len(queryVector))

	// 2. 在当前用户的向量空间内做 kNN 检索
	log.Info("[RetrievalService] 步骤2: 开始向量索引检索")
	hits, err := s.searcher.SearchByVector(ctx, queryVector, user.ID, topK, s.minScore)
	if err != nil {
		log.Errorf("[RetrievalService] 向量索引检索失败: %v", err)
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		log.Infof("[RetrievalService] 向量索引返回 0 条命中结果")
		return []model.RetrievedChunk{}, nil
	}
	log.Infof("[RetrievalService] 步骤2: 检索到 %d 条命中结果", len(hits))

	// 3. 把命中结果还原为数据库中的分块记录
	vectorIDs := make([]string, 0, len(hits))
	scoreByVectorID := make(map[string]float64, len(hits))
	for _, hit := range hits {
		vectorIDs = append(vectorIDs, hit.VectorID)
		scoreByVectorID[hit.VectorID] = hit.Score
	}
	chunks, err := s.docRepo.FindChunksByVectorIDs(vectorIDs)
	if err != nil {
		log.Errorf("[RetrievalService] 按 vector_id 查询分块失败: %v", err)
		return nil, fmt.Errorf("failed to resolve chunks: %w", err)
	}

	// 4. 批量加载关联文档与页面，补全引用素材
	docIDSet := make(map[string]bool, len(chunks))
	for _, chunk := range chunks {
		docIDSet[chunk.DocumentID] = true
	}
	docIDs := make([]string, 0, len(docIDSet))
	for id := range docIDSet {
		docIDs = append(docIDs, id)
	}

	docs, err := s.docRepo.FindBatchByIDs(docIDs)
	if err != nil {
		log.Errorf("[RetrievalService] 批量查询文档失败: %v", err)
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	docByID := make(map[string]*model.Document, len(docs))
	for _, doc := range docs {
		docByID[doc.ID] = doc
	}

	pages, err := s.docRepo.FindPagesByDocuments(docIDs)
	if err != nil {
		log.Errorf("[RetrievalService] 批量查询页面失败: %v", err)
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}
	pageByKey := make(map[string]model.DocumentPage, len(pages))
	for _, page := range pages {
		pageByKey[fmt.Sprintf("%s_%d", page.DocumentID, page.PageNumber)] = page
	}

	// 5. 组装结果。索引按 owner_id 过滤过，这里再按归属校验一遍。
	results := make([]model.RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		doc, ok := docByID[chunk.DocumentID]
		if !ok || doc.OwnerID != user.ID {
			log.Warnf("[RetrievalService] 丢弃归属不符的命中分块, DocumentID: %s, ChunkIndex: %d", chunk.DocumentID, chunk.ChunkIndex)
			continue
		}

		vectorID := ""
		if chunk.VectorID != nil {
			vectorID = *chunk.VectorID
		}
		result := model.RetrievedChunk{
			DocumentID:   chunk.DocumentID,
			DocumentName: doc.OriginalFilename,
			ChunkIndex:   chunk.ChunkIndex,
			Content:      chunk.Content,
			ChunkType:    chunk.ChunkType,
			PageNumbers:  chunk.PageNumberList(),
			Score:        scoreByVectorID[vectorID],
		}
		// 引用定位到分块的第一页
		if pageNums := result.PageNumbers; len(pageNums) > 0 {
			if page, ok := pageByKey[fmt.Sprintf("%s_%d", chunk.DocumentID, pageNums[0])]; ok {
				result.ImagePath = page.ImagePath
				result.PageHasChart = page.HasChart
				result.PageHasTable = page.HasTable
			}
		}
		results = append(results, result)
	}

	// 6. 排序：得分降序，同分时 chunk_index 小者在前，保持结果确定
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	log.Infof("[RetrievalService] 检索完成, 返回 %d 条分块", len(results))
	return results, nil
}
