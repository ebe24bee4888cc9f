package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"doclens-go/internal/config"
	"doclens-go/internal/model"
	"doclens-go/internal/repository"
	"doclens-go/pkg/embedding"
	"doclens-go/pkg/es"
	"doclens-go/pkg/log"
	"doclens-go/pkg/parser"
	"doclens-go/pkg/retry"
	"doclens-go/pkg/tasks"
	"doclens-go/pkg/vision"
)

// objectStore 是摄取流水线需要的对象存储能力。
type objectStore interface {
	DownloadObject(ctx context.Context, objectName string) ([]byte, error)
	UploadObject(ctx context.Context, objectName string, data []byte, contentType string) error
}

// structuredParser 是结构化解析服务的调用入口。
type structuredParser interface {
	ParsePDF(ctx context.Context, data []byte, fileName string) ([]parser.Page, error)
}

// vectorIndex 是向量索引的写路径。
type vectorIndex interface {
	UpsertChunk(ctx context.Context, doc es.ChunkDoc) error
	DeleteByDocument(ctx context.Context, documentID string) error
	CountByDocument(ctx context.Context, documentID string) (int64, error)
}

// Ingestor 封装了文档摄取的所有依赖和逻辑。
// 整条流水线可以安全重跑：页面按 (document_id, page_number) 幂等写入，
// 分块整体替换，向量以确定性 vector_id 覆盖写入。
type Ingestor struct {
	docRepo         repository.DocumentRepository
	store           objectStore
	parserClient    structuredParser
	fallbackExtract func(data []byte) ([]parser.Page, error)
	annotator       vision.Client
	embeddingClient embedding.Client
	index           vectorIndex
	chunker         *Chunker
	embeddingModel  string
	cfg             config.IngestConfig
}

// NewIngestor 创建一个新的 Ingestor 实例。
func NewIngestor(
	docRepo repository.DocumentRepository,
	store objectStore,
	parserClient structuredParser,
	annotator vision.Client,
	embeddingClient embedding.Client,
	index vectorIndex,
	embeddingModel string,
	cfg config.IngestConfig,
) *Ingestor {
	return &Ingestor{
		docRepo:         docRepo,
		store:           store,
		parserClient:    parserClient,
		fallbackExtract: parser.FallbackExtract,
		annotator:       annotator,
		embeddingClient: embeddingClient,
		index:           index,
		chunker:         NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize),
		embeddingModel:  embeddingModel,
		cfg:             cfg,
	}
}

// Process 实现 kafka.TaskProcessor，是文档摄取的主函数。
func (p *Ingestor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Ingestor] 开始处理文档, DocumentID: %s, FileName: %s, OwnerID: %d", task.DocumentID, task.FileName, task.OwnerID)

	// 1. 以 pending -> processing 的条件更新抢占处理权。
	// 抢占失败说明文档已在处理中或已结束，直接放弃，避免并发重复摄取。
	claimed, err := p.docRepo.ClaimForProcessing(task.DocumentID)
	if err != nil {
		log.Errorf("[Ingestor] 抢占文档处理权失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return fmt.Errorf("抢占文档处理权失败: %w", err)
	}
	if !claimed {
		log.Infof("[Ingestor] 文档未处于 pending 状态，跳过本次摄取, DocumentID: %s", task.DocumentID)
		return nil
	}

	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		log.Errorf("[Ingestor] 读取文档记录失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return fmt.Errorf("读取文档记录失败: %w", err)
	}

	if err := p.run(ctx, doc); err != nil {
		// 失败收尾：记录原因并清除本次可能写入的向量，不留孤儿向量。
		log.Errorf("[Ingestor] 文档摄取失败, DocumentID: %s, Error: %v", doc.ID, err)
		p.fail(ctx, doc.ID, err.Error())
		return nil
	}

	log.Infof("[Ingestor] 文档摄取成功完成, DocumentID: %s", doc.ID)
	return nil
}

func (p *Ingestor) run(ctx context.Context, doc *model.Document) error {
	retryAttempts := p.cfg.MaxRetries
	retryBase := time.Duration(p.cfg.RetryBaseMillis) * time.Millisecond

	// 2. 下载原始文件
	log.Infof("[Ingestor] 步骤1: 从对象存储下载文件, Object: %s", doc.StoragePath)
	data, err := p.store.DownloadObject(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("下载原始文件失败: %w", err)
	}
	if len(data) == 0 {
		return errors.New("文件内容为空")
	}
	log.Infof("[Ingestor] 步骤1: 文件下载成功, 大小: %d 字节", len(data))

	// 3. 结构化解析，不可用时降级为纯文本抽取
	log.Info("[Ingestor] 步骤2: 调用结构化解析服务")
	var pages []parser.Page
	parserMode := model.ParserModeStructured
	err = retry.Do(ctx, retryAttempts, retryBase, func() error {
		var parseErr error
		pages, parseErr = p.parserClient.ParsePDF(ctx, data, doc.OriginalFilename)
		return parseErr
	})
	if err != nil {
		// 结构化解析耗尽重试后无论何种失败都降级，只有降级抽取本身失败才算致命
		log.Warnf("[Ingestor] 结构化解析失败，降级为纯文本抽取, DocumentID: %s, Error: %v", doc.ID, err)
		pages, err = p.fallbackExtract(data)
		if err != nil {
			return fmt.Errorf("降级解析失败: %w", err)
		}
		parserMode = model.ParserModeDegraded
	}
	if len(pages) == 0 {
		return errors.New("未解析出任何页面")
	}
	if err := p.docRepo.SetParserMode(doc.ID, parserMode); err != nil {
		return fmt.Errorf("记录解析模式失败: %w", err)
	}
	log.Infof("[Ingestor] 步骤2: 解析完成, 模式: %s, 页数: %d", parserMode, len(pages))

	// 4. 落页面记录，页面图片上传到对象存储
	log.Info("[Ingestor] 步骤3: 写入页面记录")
	imagePaths := make(map[int]string, len(pages))
	for _, page := range pages {
		imagePath := ""
		if len(page.Image) > 0 {
			imagePath = fmt.Sprintf("documents/%d/%s/pages/page_%d.png", doc.OwnerID, doc.ID, page.PageNumber)
			if err := p.store.UploadObject(ctx, imagePath, page.Image, "image/png"); err != nil {
				return fmt.Errorf("上传第 %d 页图片失败: %w", page.PageNumber, err)
			}
		}
		imagePaths[page.PageNumber] = imagePath
		if err := p.docRepo.UpsertPage(&model.DocumentPage{
			DocumentID: doc.ID,
			PageNumber: page.PageNumber,
			ImagePath:  imagePath,
			Width:      page.Width,
			Height:     page.Height,
		}); err != nil {
			return fmt.Errorf("写入第 %d 页记录失败: %w", page.PageNumber, err)
		}
	}

	// 5. 逐页视觉标注。单页失败只影响该页，不中断整篇文档。
	annotations := p.annotatePages(ctx, doc.ID, pages)

	// 6. 文本分块 + 视觉描述块
	log.Info("[Ingestor] 步骤4: 进行文本分块")
	pageTexts := make([]PageText, 0, len(pages))
	for _, page := range pages {
		pageTexts = append(pageTexts, PageText{PageNumber: page.PageNumber, Text: page.Text})
	}
	chunks := p.chunker.ChunkPages(pageTexts)
	chunks = markTableChunks(chunks, annotations)
	chunks = appendVisionChunks(chunks, pages, annotations)
	log.Infof("[Ingestor] 步骤4: 文本分块完成, 共生成 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		return errors.New("未生成任何文本分块")
	}

	// 7. 清理上一次摄取的向量与分块记录，保证重复摄取不产生重复数据
	log.Info("[Ingestor] 步骤5: 清理旧向量与旧分块记录")
	if err := p.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("清理旧向量失败: %w", err)
	}
	dbChunks := make([]*model.DocumentChunk, 0, len(chunks))
	for _, chunk := range chunks {
		dbChunk := &model.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: chunk.ChunkIndex,
			Content:    chunk.Content,
			ChunkType:  chunk.ChunkType,
			TokenCount: chunk.TokenCount,
		}
		dbChunk.SetPageNumbers(chunk.PageNumbers)
		dbChunks = append(dbChunks, dbChunk)
	}
	if err := p.docRepo.ReplaceChunks(doc.ID, dbChunks); err != nil {
		return fmt.Errorf("保存分块记录失败: %w", err)
	}

	// 8. 逐块向量化并写入索引，成功确认后才回填 vector_id
	log.Info("[Ingestor] 步骤6: 开始遍历分块并进行向量化与索引")
	for i, chunk := range chunks {
		log.Infof("[Ingestor] 正在处理分块 %d/%d, ChunkIndex: %d", i+1, len(chunks), chunk.ChunkIndex)

		var vector []float32
		err := retry.Do(ctx, retryAttempts, retryBase, func() error {
			var embErr error
			vector, embErr = p.embeddingClient.CreateEmbedding(ctx, chunk.Content)
			return embErr
		})
		if err != nil {
			return fmt.Errorf("分块 %d 向量化失败: %w", chunk.ChunkIndex, err)
		}

		vectorID := fmt.Sprintf("%s_%d", doc.ID, chunk.ChunkIndex)
		esDoc := es.ChunkDoc{
			VectorID:     vectorID,
			DocumentID:   doc.ID,
			OwnerID:      doc.OwnerID,
			ChunkIndex:   chunk.ChunkIndex,
			Content:      chunk.Content,
			PageNumbers:  chunk.PageNumbers,
			ChunkType:    chunk.ChunkType,
			ModelVersion: p.embeddingModel,
			Vector:       vector,
		}
		err = retry.Do(ctx, retryAttempts, retryBase, func() error {
			return p.index.UpsertChunk(ctx, esDoc)
		})
		if err != nil {
			return fmt.Errorf("分块 %d 索引失败: %w", chunk.ChunkIndex, err)
		}

		if err := p.docRepo.SetChunkVectorID(doc.ID, chunk.ChunkIndex, vectorID); err != nil {
			return fmt.Errorf("回填分块 %d 的 vector_id 失败: %w", chunk.ChunkIndex, err)
		}
	}
	log.Info("[Ingestor] 步骤6: 所有分块处理完毕")

	// 9. 完整性校验：索引中的向量数必须与分块数一致
	indexed, err := p.index.CountByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("校验索引向量数失败: %w", err)
	}
	if indexed != int64(len(chunks)) {
		return fmt.Errorf("索引向量数不一致: 期望 %d, 实际 %d", len(chunks), indexed)
	}

	// 10. 收尾
	if err := p.docRepo.MarkCompleted(doc.ID, len(pages)); err != nil {
		return fmt.Errorf("标记文档完成失败: %w", err)
	}
	return nil
}

// annotatePages 以有限并发逐页调用视觉标注，失败的页保持未标注状态。
func (p *Ingestor) annotatePages(ctx context.Context, documentID string, pages []parser.Page) map[int]vision.Annotation {
	log.Info("[Ingestor] 步骤: 开始逐页视觉标注")
	concurrency := p.cfg.VisionConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	annotations := make(map[int]vision.Annotation)

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for _, page := range pages {
		if len(page.Image) == 0 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(page parser.Page) {
			defer wg.Done()
			defer func() { <-sem }()

			annotation, err := p.annotator.DescribePage(ctx, page.Image)
			if err != nil {
				log.Warnf("[Ingestor] 第 %d 页视觉标注失败, DocumentID: %s, Error: %v", page.PageNumber, documentID, err)
				return
			}
			desc := annotation.Description
			if err := p.docRepo.UpdatePageAnnotation(documentID, page.PageNumber, &desc,
				annotation.HasChart, annotation.HasTable, annotation.HasImage); err != nil {
				log.Warnf("[Ingestor] 保存第 %d 页标注失败, DocumentID: %s, Error: %v", page.PageNumber, documentID, err)
				return
			}
			mu.Lock()
			annotations[page.PageNumber] = annotation
			mu.Unlock()
		}(page)
	}
	wg.Wait()
	log.Infof("[Ingestor] 视觉标注完成, 成功 %d/%d 页", len(annotations), len(pages))
	return annotations
}

// markTableChunks 将所有来源页都含表格的文本块标记为表格块。
func markTableChunks(chunks []Chunk, annotations map[int]vision.Annotation) []Chunk {
	for i, chunk := range chunks {
		if len(chunk.PageNumbers) == 0 {
			continue
		}
		allTable := true
		for _, pageNum := range chunk.PageNumbers {
			annotation, ok := annotations[pageNum]
			if !ok || !annotation.HasTable {
				allTable = false
				break
			}
		}
		if allTable {
			chunks[i].ChunkType = model.ChunkTypeTable
		}
	}
	return chunks
}

// appendVisionChunks 将每页的视觉描述追加为独立的可检索分块。
// 这些块的类型为 mixed，页码即其来源页。
func appendVisionChunks(chunks []Chunk, pages []parser.Page, annotations map[int]vision.Annotation) []Chunk {
	for _, page := range pages {
		annotation, ok := annotations[page.PageNumber]
		if !ok || annotation.Description == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content:     annotation.Description,
			PageNumbers: []int{page.PageNumber},
			ChunkIndex:  len(chunks),
			ChunkType:   model.ChunkTypeMixed,
			TokenCount:  EstimateTokenCount(annotation.Description),
		})
	}
	return chunks
}

// fail 统一处理不可恢复的失败：标记文档失败并清除已写入的向量。
func (p *Ingestor) fail(ctx context.Context, documentID, reason string) {
	if err := p.docRepo.MarkFailed(documentID, reason); err != nil {
		log.Errorf("[Ingestor] 标记文档失败状态时出错, DocumentID: %s, Error: %v", documentID, err)
	}
	if err := p.index.DeleteByDocument(ctx, documentID); err != nil {
		log.Errorf("[Ingestor] 清除失败文档的向量时出错, DocumentID: %s, Error: %v", documentID, err)
	}
	if err := p.docRepo.ClearChunkVectorIDs(documentID); err != nil {
		log.Errorf("[Ingestor] 清除失败文档的 vector_id 时出错, DocumentID: %s, Error: %v", documentID, err)
	}
}
