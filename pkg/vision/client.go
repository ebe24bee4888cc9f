// Package vision 提供了页面图片的视觉理解客户端。
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"doclens-go/internal/config"
	"doclens-go/pkg/log"
)

// Annotation 是一页图片的视觉理解结果：自然语言描述加内容标记。
type Annotation struct {
	Description string
	HasChart    bool
	HasTable    bool
	HasImage    bool
}

// Client 定义了视觉理解客户端的接口。
type Client interface {
	DescribePage(ctx context.Context, image []byte) (Annotation, error)
}

type openAICompatibleClient struct {
	cfg    config.VisionConfig
	client *http.Client
}

// NewClient 创建一个新的视觉理解客户端。
func NewClient(cfg config.VisionConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// pageAnalysisPrompt 要求模型概述文本内容并报告图表/表格/图片元素。
const pageAnalysisPrompt = `Analyze this document page image and provide a detailed description.

Your response should include:
1. TEXT SUMMARY: summary of visible text content.
2. VISUAL ELEMENTS: any charts, graphs, tables, diagrams, or images present.
3. KEY DATA: specific numbers, percentages, or data values visible in charts/tables.
4. ELEMENT TYPES: list which of these are present: chart, table, image, or none.

Be specific with numbers and data values when visible.`

type visionContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionRequest struct {
	Model    string          `json:"model"`
	Messages []visionMessage `json:"messages"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DescribePage 调用视觉模型描述一页渲染图片，并从描述推断内容标记。
func (c *openAICompatibleClient) DescribePage(ctx context.Context, image []byte) (Annotation, error) {
	log.Infof("[VisionClient] 开始分析页面图片, model: %s, image_size: %d", c.cfg.Model, len(image))

	imagePart := visionContentPart{Type: "image_url"}
	imagePart.ImageURL = &struct {
		URL string `json:"url"`
	}{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)}

	reqBody := visionRequest{
		Model: c.cfg.Model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []visionContentPart{
					{Type: "text", Text: pageAnalysisPrompt},
					imagePart,
				},
			},
		},
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[VisionClient] 调用视觉模型失败: %v", err)
		return Annotation{}, fmt.Errorf("failed to call vision api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Errorf("[VisionClient] 视觉模型返回 %s: %s", resp.Status, string(body))
		return Annotation{}, fmt.Errorf("vision api returned non-200 status: %s", resp.Status)
	}

	var visionResp visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&visionResp); err != nil {
		return Annotation{}, fmt.Errorf("failed to decode vision response: %w", err)
	}
	if len(visionResp.Choices) == 0 || visionResp.Choices[0].Message.Content == "" {
		return Annotation{}, fmt.Errorf("received empty description from vision api")
	}

	ann := parseAnnotation(visionResp.Choices[0].Message.Content)
	log.Infof("[VisionClient] 页面分析成功, chart=%v table=%v image=%v", ann.HasChart, ann.HasTable, ann.HasImage)
	return ann, nil
}

// parseAnnotation 从模型描述中推断图表/表格/图片标记。
func parseAnnotation(description string) Annotation {
	lower := strings.ToLower(description)
	contains := func(indicators []string) bool {
		for _, ind := range indicators {
			if strings.Contains(lower, ind) {
				return true
			}
		}
		return false
	}
	return Annotation{
		Description: description,
		HasChart:    contains([]string{"chart", "graph", "bar", "pie", "histogram", "plot"}),
		HasTable:    contains([]string{"table", "grid", "spreadsheet"}),
		HasImage:    contains([]string{"photo", "picture", "diagram", "illustration", "figure"}),
	}
}
