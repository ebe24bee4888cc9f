// Package parser 提供了 PDF 解析能力：优先调用结构化解析服务，
// 服务不可用时由调用方降级为纯文本抽取。
package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"doclens-go/internal/config"
	"doclens-go/pkg/log"
)

// ErrUnavailable 表示结构化解析服务不可达或返回 5xx。
// 调用方据此触发降级分支，而不是直接判定文档失败。
var ErrUnavailable = errors.New("结构化解析服务不可用")

// Page 是解析结果中的一页：页码、文本以及可选的渲染图片。
type Page struct {
	PageNumber int
	Text       string
	Image      []byte
	Width      int
	Height     int
}

// Client 是结构化解析服务的客户端。
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient 创建一个新的解析服务客户端实例。
func NewClient(cfg config.ParserConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		serverURL: cfg.ServerURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// parseResponse 对应解析服务的 JSON 响应。
type parseResponse struct {
	Pages []struct {
		PageNumber int    `json:"page_number"`
		Text       string `json:"text"`
		ImageB64   string `json:"image_b64"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"pages"`
}

// ParsePDF 把 PDF 字节流提交给解析服务，返回带渲染图片的逐页结果。
// 连接失败或 5xx 返回 ErrUnavailable；其余错误按普通失败处理。
func (c *Client) ParsePDF(ctx context.Context, data []byte, fileName string) ([]Page, error) {
	if c.serverURL == "" {
		return nil, ErrUnavailable
	}
	log.Infof("[ParserClient] 提交 PDF 到解析服务, file: %s, size: %d", fileName, len(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/parse", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建解析请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-File-Name", fileName)

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("[ParserClient] 解析服务不可达: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("调用解析服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		body, _ := io.ReadAll(resp.Body)
		log.Warnf("[ParserClient] 解析服务返回 %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("解析服务返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析服务响应解码失败: %w", err)
	}
	if len(parsed.Pages) == 0 {
		return nil, errors.New("解析服务返回 0 页")
	}

	pages := make([]Page, 0, len(parsed.Pages))
	for _, p := range parsed.Pages {
		page := Page{
			PageNumber: p.PageNumber,
			Text:       p.Text,
			Width:      p.Width,
			Height:     p.Height,
		}
		if p.ImageB64 != "" {
			img, decErr := base64.StdEncoding.DecodeString(p.ImageB64)
			if decErr != nil {
				log.Warnf("[ParserClient] 第 %d 页图片解码失败: %v", p.PageNumber, decErr)
			} else {
				page.Image = img
			}
		}
		pages = append(pages, page)
	}
	log.Infof("[ParserClient] 解析成功, 共 %d 页", len(pages))
	return pages, nil
}
