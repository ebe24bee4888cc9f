package handler

import (
	"net/http"
	"strconv"

	"doclens-go/internal/model"
	"doclens-go/internal/service"
	"doclens-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了检索问答相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

type searchRequest struct {
	Query         string `json:"query" binding:"required"`
	TopK          int    `json:"top_k"`
	IncludeImages bool   `json:"include_images"`
}

// Search 是处理检索问答请求的 Gin 处理函数。
func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 检索请求参数无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}
	log.Infof("[SearchHandler] 收到检索请求, query: %s, topK: %d", req.Query, req.TopK)

	user, exists := c.Get("user")
	if !exists {
		log.Errorf("[SearchHandler] 无法从 Gin 上下文中获取用户信息")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	result, err := h.searchService.Search(c.Request.Context(), user.(*model.User), req.Query, req.TopK, req.IncludeImages)
	if err != nil {
		log.Errorf("[SearchHandler] 检索服务返回错误, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索失败"})
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 引用 %d 条", req.Query, len(result.Citations))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}

// History 返回当前用户最近的检索历史。
func (h *SearchHandler) History(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	history, err := h.searchService.History(user.(*model.User), limit)
	if err != nil {
		log.Errorf("[SearchHandler] 查询检索历史失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询历史失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": history, "message": "success"})
}

type feedbackRequest struct {
	WasHelpful *bool `json:"was_helpful" binding:"required"`
}

// Feedback 记录用户对某次回答的反馈。
func (h *SearchHandler) Feedback(c *gin.Context) {
	historyID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的历史记录 ID"})
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的反馈参数"})
		return
	}

	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	if err := h.searchService.Feedback(user.(*model.User), uint(historyID), *req.WasHelpful); err != nil {
		log.Errorf("[SearchHandler] 记录反馈失败, historyID: %d, error: %v", historyID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "记录反馈失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}
