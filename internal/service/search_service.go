package service

import (
	"context"
	"time"
	"unicode/utf8"

	"doclens-go/internal/config"
	"doclens-go/internal/model"
	"doclens-go/internal/repository"
	"doclens-go/pkg/log"
)

// 用户文档中检索不到任何相关内容时的固定回答。
const noResultAnswerText = "在您的文档中没有检索到与该问题相关的内容。"

// imageSigner 为对象存储中的页面图片生成限时访问链接。
type imageSigner interface {
	GetPresignedURL(objectName string, expiry time.Duration) (string, error)
}

// SearchService 接口定义了一次完整的检索问答操作及历史查询。
type SearchService interface {
	Search(ctx context.Context, user *model.User, query string, topK int, includeImages bool) (*model.SearchResultDTO, error)
	History(user *model.User, limit int) ([]model.SearchHistory, error)
	Feedback(user *model.User, historyID uint, helpful bool) error
}

type searchService struct {
	retrievalService RetrievalService
	answerService    AnswerService
	historyRepo      repository.SearchHistoryRepository
	signer           imageSigner
	cfg              config.SearchConfig
	imageURLExpiry   time.Duration
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(
	retrievalService RetrievalService,
	answerService AnswerService,
	historyRepo repository.SearchHistoryRepository,
	signer imageSigner,
	cfg config.SearchConfig,
	imageURLExpireMin int,
) SearchService {
	return &searchService{
		retrievalService: retrievalService,
		answerService:    answerService,
		historyRepo:      historyRepo,
		signer:           signer,
		cfg:              cfg,
		imageURLExpiry:   time.Duration(imageURLExpireMin) * time.Minute,
	}
}

// Search 串联检索与回答生成，并记录一条检索历史。
// 零命中不是错误：返回固定的"没有找到"回答和空引用列表。
func (s *searchService) Search(ctx context.Context, user *model.User, query string, topK int, includeImages bool) (*model.SearchResultDTO, error) {
	start := time.Now()
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	log.Infof("[SearchService] 开始检索问答, query: '%s', topK: %d, user: %s", query, topK, user.Username)

	chunks, err := s.retrievalService.Retrieve(ctx, user, query, topK)
	if err != nil {
		return nil, err
	}

	var answer string
	if len(chunks) == 0 {
		answer = noResultAnswerText
	} else {
		answer, err = s.answerService.Generate(ctx, query, chunks)
		if err != nil {
			return nil, err
		}
	}

	citations := s.buildCitations(chunks, includeImages)
	elapsed := time.Since(start).Milliseconds()

	// 历史记录只在本次检索成功完成后写入
	history := &model.SearchHistory{
		UserID:          user.ID,
		Query:           query,
		Response:        answer,
		ChunksRetrieved: len(chunks),
		ResponseTimeMs:  int(elapsed),
	}
	if err := s.historyRepo.Create(history); err != nil {
		// 历史写入失败不影响本次回答
		log.Warnf("[SearchService] 写入检索历史失败: %v", err)
	}

	log.Infof("[SearchService] 检索问答完成, 命中 %d 条分块, 耗时 %dms", len(chunks), elapsed)
	return &model.SearchResultDTO{
		Answer:           answer,
		Citations:        citations,
		Query:            query,
		ProcessingTimeMs: int(elapsed),
	}, nil
}

// History 返回用户最近的检索历史。
func (s *searchService) History(user *model.User, limit int) ([]model.SearchHistory, error) {
	return s.historyRepo.FindByUser(user.ID, limit)
}

// Feedback 记录用户对某次回答是否有帮助的反馈。
func (s *searchService) Feedback(user *model.User, historyID uint, helpful bool) error {
	return s.historyRepo.SetHelpful(historyID, user.ID, helpful)
}

// buildCitations 把检索结果转换为引用列表。
// 引用与检索结果一一对应，不做增删，只在需要时补上页面图片链接。
func (s *searchService) buildCitations(chunks []model.RetrievedChunk, includeImages bool) []model.Citation {
	citations := make([]model.Citation, 0, len(chunks))
	for _, chunk := range chunks {
		pageNumber := 0
		if len(chunk.PageNumbers) > 0 {
			pageNumber = chunk.PageNumbers[0]
		}
		content := truncateUTF8(chunk.Content, 1000)
		citation := model.Citation{
			DocumentID:   chunk.DocumentID,
			DocumentName: chunk.DocumentName,
			PageNumber:   pageNumber,
			ChunkContent: content,
			Score:        chunk.Score,
		}
		if includeImages && chunk.ImagePath != "" {
			url, err := s.signer.GetPresignedURL(chunk.ImagePath, s.imageURLExpiry)
			if err != nil {
				log.Warnf("[SearchService] 生成页面图片链接失败, path: %s, error: %v", chunk.ImagePath, err)
			} else {
				citation.ImageURL = url
			}
		}
		citations = append(citations, citation)
	}
	return citations
}

// truncateUTF8 在不超过 max 字节的前提下按字符边界截断文本，
// 避免把多字节字符切成半个。
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
