package parser

import (
	"bytes"
	"fmt"

	"doclens-go/pkg/log"

	"github.com/ledongthuc/pdf"
)

// FallbackExtract 在结构化解析服务不可用时做纯 Go 的逐页文本抽取。
// 降级结果没有渲染图片，也没有图表/表格识别。
func FallbackExtract(data []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("PDF 不包含任何页面")
	}

	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{PageNumber: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// 单页抽取失败不终止整份文档，留空文本继续
			log.Warnf("[ParserFallback] 第 %d 页文本抽取失败: %v", i, err)
			text = ""
		}
		pages = append(pages, Page{PageNumber: i, Text: text})
	}
	log.Infof("[ParserFallback] 降级抽取完成, 共 %d 页", len(pages))
	return pages, nil
}
