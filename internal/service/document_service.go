// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"doclens-go/internal/config"
	"doclens-go/internal/model"
	"doclens-go/internal/repository"
	"doclens-go/pkg/log"
	"doclens-go/pkg/tasks"

	"github.com/google/uuid"
)

var (
	// ErrDocumentNotFound 表示文档不存在或不属于当前用户。
	ErrDocumentNotFound = errors.New("文档不存在或无权访问")
	// ErrInvalidFileType 表示上传的文件不是 PDF。
	ErrInvalidFileType = errors.New("仅支持上传 PDF 文件")
	// ErrFileTooLarge 表示上传文件超出大小限制。
	ErrFileTooLarge = errors.New("文件大小超出限制")
)

// documentStore 是文档管理需要的对象存储能力。
type documentStore interface {
	UploadObject(ctx context.Context, objectName string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, objectName string) error
	RemoveByPrefix(ctx context.Context, prefix string) error
	GetPresignedURL(objectName string, expiry time.Duration) (string, error)
}

// documentVectorIndex 是文档删除时需要的向量索引清理入口。
type documentVectorIndex interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// PageImageDTO 封装了页面图片的临时访问信息。
type PageImageDTO struct {
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"`
	ImageURL   string `json:"image_url"`
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, user *model.User, fileName string, data []byte, mimeType string) (*model.Document, error)
	List(user *model.User) ([]model.Document, error)
	Get(user *model.User, documentID string) (*model.Document, []model.DocumentPage, error)
	PageImage(user *model.User, documentID string, pageNumber int) (*PageImageDTO, error)
	Delete(ctx context.Context, user *model.User, documentID string) error
}

type documentService struct {
	docRepo repository.DocumentRepository
	store   documentStore
	index   documentVectorIndex
	produce func(task tasks.IngestTask) error
	cfg     config.IngestConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	store documentStore,
	index documentVectorIndex,
	produce func(task tasks.IngestTask) error,
	cfg config.IngestConfig,
) DocumentService {
	return &documentService{
		docRepo: docRepo,
		store:   store,
		index:   index,
		produce: produce,
		cfg:     cfg,
	}
}

// Upload 校验并保存上传的 PDF，落文档记录后投递异步摄取任务。
// 调用方不等待摄取完成，通过文档状态轮询处理进度。
func (s *documentService) Upload(ctx context.Context, user *model.User, fileName string, data []byte, mimeType string) (*model.Document, error) {
	if !strings.HasSuffix(strings.ToLower(fileName), ".pdf") && mimeType != "application/pdf" {
		return nil, ErrInvalidFileType
	}
	maxSize := int64(s.cfg.MaxUploadSizeMB) * 1024 * 1024
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, errors.New("文件内容为空")
	}

	documentID := uuid.NewString()
	storedFilename := fmt.Sprintf("%s.pdf", documentID)
	storagePath := fmt.Sprintf("documents/%d/%s/original.pdf", user.ID, documentID)

	log.Infof("[DocumentService] 开始上传文档, user: %s, file: %s, size: %d", user.Username, fileName, len(data))
	if err := s.store.UploadObject(ctx, storagePath, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	doc := &model.Document{
		ID:               documentID,
		OwnerID:          user.ID,
		OriginalFilename: fileName,
		StoredFilename:   storedFilename,
		StoragePath:      storagePath,
		FileSize:         int64(len(data)),
		MimeType:         "application/pdf",
		Status:           model.DocStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		// 记录落库失败时清掉刚上传的对象，不留孤儿文件
		if rmErr := s.store.RemoveObject(ctx, storagePath); rmErr != nil {
			log.Errorf("[DocumentService] 清理已上传对象失败, path: %s, Error: %v", storagePath, rmErr)
		}
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	task := tasks.IngestTask{
		DocumentID: documentID,
		OwnerID:    user.ID,
		FileName:   fileName,
	}
	if err := s.produce(task); err != nil {
		// 投递失败时标记文档失败，避免永远停留在 pending
		log.Errorf("[DocumentService] 投递摄取任务失败, DocumentID: %s, Error: %v", documentID, err)
		if markErr := s.docRepo.MarkFailed(documentID, "投递摄取任务失败"); markErr != nil {
			log.Errorf("[DocumentService] 标记文档失败状态时出错: %v", markErr)
		}
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档上传成功并已投递摄取任务, DocumentID: %s", documentID)
	return doc, nil
}

// List 获取用户自己的全部文档。
func (s *documentService) List(user *model.User) ([]model.Document, error) {
	return s.docRepo.FindByOwner(user.ID)
}

// Get 获取单个文档及其页面记录。
func (s *documentService) Get(user *model.User, documentID string) (*model.Document, []model.DocumentPage, error) {
	doc, err := s.docRepo.FindByIDAndOwner(documentID, user.ID)
	if err != nil {
		return nil, nil, ErrDocumentNotFound
	}
	pages, err := s.docRepo.FindPages(documentID)
	if err != nil {
		return nil, nil, err
	}
	return doc, pages, nil
}

// PageImage 为指定页面的渲染图片生成限时访问链接。
func (s *documentService) PageImage(user *model.User, documentID string, pageNumber int) (*PageImageDTO, error) {
	if _, err := s.docRepo.FindByIDAndOwner(documentID, user.ID); err != nil {
		return nil, ErrDocumentNotFound
	}
	page, err := s.docRepo.FindPage(documentID, pageNumber)
	if err != nil {
		return nil, errors.New("页面不存在")
	}
	if page.ImagePath == "" {
		return nil, errors.New("该页没有渲染图片")
	}

	expiry := time.Duration(s.cfg.PageImageURLExpireMin) * time.Minute
	url, err := s.store.GetPresignedURL(page.ImagePath, expiry)
	if err != nil {
		return nil, fmt.Errorf("生成页面图片链接失败: %w", err)
	}
	return &PageImageDTO{
		DocumentID: documentID,
		PageNumber: pageNumber,
		ImageURL:   url,
	}, nil
}

// Delete 删除文档：级联删除页面与分块记录、清除向量、清理对象存储。
func (s *documentService) Delete(ctx context.Context, user *model.User, documentID string) error {
	doc, err := s.docRepo.FindByIDAndOwner(documentID, user.ID)
	if err != nil {
		return ErrDocumentNotFound
	}

	if err := s.docRepo.DeleteCascade(documentID, user.ID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		// 向量清理失败只记录：索引按 owner 过滤且数据库记录已删除，残留向量解析不出分块
		log.Errorf("[DocumentService] 清除文档向量失败, DocumentID: %s, Error: %v", documentID, err)
	}
	prefix := fmt.Sprintf("documents/%d/%s/", user.ID, documentID)
	if err := s.store.RemoveByPrefix(ctx, prefix); err != nil {
		log.Errorf("[DocumentService] 清理对象存储失败, prefix: %s, Error: %v", prefix, err)
	}

	log.Infof("[DocumentService] 文档已删除, DocumentID: %s, file: %s", documentID, doc.OriginalFilename)
	return nil
}
