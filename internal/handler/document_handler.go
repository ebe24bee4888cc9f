// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"doclens-go/internal/model"
	"doclens-go/internal/service"
	"doclens-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
	}
}

// Upload 处理 PDF 上传请求，落库后异步摄取。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, err := getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}

	doc, err := h.docService.Upload(c.Request.Context(), user, fileHeader.Filename, data, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		log.Warnf("[DocumentHandler] 上传失败, user: %s, file: %s, err: %v", user.Username, fileHeader.Filename, err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidFileType) || errors.Is(err, service.ErrFileTooLarge) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档上传成功，正在后台处理",
		"data":    doc,
	})
}

// List 处理获取用户文档列表的请求。
func (h *DocumentHandler) List(c *gin.Context) {
	user, err := getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	docs, err := h.docService.List(user)
	if err != nil {
		log.Error("[DocumentHandler] 获取文档列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档列表成功",
		"data":    docs,
	})
}

// Get 处理获取单个文档详情（含页面记录）的请求。
func (h *DocumentHandler) Get(c *gin.Context) {
	documentID := c.Param("id")
	user, err := getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	doc, pages, err := h.docService.Get(user, documentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档详情成功",
		"data": gin.H{
			"document": doc,
			"pages":    pages,
		},
	})
}

// PageImage 处理获取页面图片临时链接的请求。
func (h *DocumentHandler) PageImage(c *gin.Context) {
	documentID := c.Param("id")
	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的页码"})
		return
	}

	user, err := getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	image, err := h.docService.PageImage(user, documentID, pageNumber)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "页面图片链接生成成功",
		"data":    image,
	})
}

// Delete 处理删除文档的请求。
func (h *DocumentHandler) Delete(c *gin.Context) {
	documentID := c.Param("id")
	user, err := getUserFromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	if err := h.docService.Delete(c.Request.Context(), user, documentID); err != nil {
		log.Warnf("[DocumentHandler] 删除文档失败, user: %s, doc: %s, err: %v", user.Username, documentID, err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档删除成功",
	})
}

// getUserFromContext 从 Gin 上下文中获取认证中间件放入的用户对象。
func getUserFromContext(c *gin.Context) (*model.User, error) {
	userValue, exists := c.Get("user")
	if !exists {
		return nil, errors.New("上下文中不存在用户信息")
	}
	return userValue.(*model.User), nil
}
