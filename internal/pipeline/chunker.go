// Package pipeline 实现文档摄取流水线：解析、视觉标注、分块、向量化与索引。
package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"doclens-go/internal/model"
)

// PageText 是一页已抽取的文本，按页码有序输入分块器。
type PageText struct {
	PageNumber int
	Text       string
}

// Chunk 是分块器的一条输出。PageNumbers 记录该块取材的所有页码。
type Chunk struct {
	Content     string
	PageNumbers []int
	ChunkIndex  int
	ChunkType   string
	TokenCount  int
}

// Chunker 将页面文本切分为带重叠的有界文本块。
// 相同输入必须产生完全相同的切分结果，重复摄取依赖这一确定性。
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
}

// NewChunker 按配置创建分块器。
func NewChunker(chunkSize, chunkOverlap, minChunkSize int) *Chunker {
	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		MinChunkSize: minChunkSize,
	}
}

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// paragraph 是一个携带来源页码的段落单元。
type paragraph struct {
	text string
	page int
}

// ChunkPages 在保留页面边界信息的前提下，对全文做段落级切分。
// 块可以跨页：段落按原始顺序累积，溢出时带句子边界的重叠开启新块。
func (c *Chunker) ChunkPages(pages []PageText) []Chunk {
	paras := splitParagraphs(pages)
	if len(paras) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder
	currentPages := map[int]bool{}
	// 重叠文本取自上一块末尾，归属上一块的最后一页
	overlapPage := 0

	flush := func() {
		content := strings.TrimSpace(current.String())
		if len(content) >= c.MinChunkSize {
			chunks = append(chunks, Chunk{
				Content:     content,
				PageNumbers: sortedPages(currentPages),
				ChunkIndex:  len(chunks),
				ChunkType:   model.ChunkTypeText,
				TokenCount:  EstimateTokenCount(content),
			})
		}
	}

	for _, para := range paras {
		if current.Len()+len(para.text) > c.ChunkSize && current.Len() > 0 {
			lastPage := maxPage(currentPages)
			overlap := c.overlapText(current.String())
			flush()

			current.Reset()
			currentPages = map[int]bool{}
			if overlap != "" {
				current.WriteString(overlap)
				overlapPage = lastPage
				if overlapPage > 0 {
					currentPages[overlapPage] = true
				}
			}
		}
		current.WriteString(para.text)
		current.WriteString("\n\n")
		currentPages[para.page] = true
	}
	flush()

	return chunks
}

// overlapText 从块尾截取重叠文本，优先在句子边界处断开，其次退到词边界。
func (c *Chunker) overlapText(text string) string {
	if c.ChunkOverlap <= 0 {
		return ""
	}
	if len(text) <= c.ChunkOverlap {
		return text
	}

	// 起点落在多字节字符中间时向后挪到字符边界
	start := len(text) - c.ChunkOverlap
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	region := text[start:]
	if idx := strings.Index(region, ". "); idx != -1 {
		return region[idx+2:]
	}
	if idx := strings.Index(region, " "); idx != -1 {
		return region[idx+1:]
	}
	return region
}

func splitParagraphs(pages []PageText) []paragraph {
	var paras []paragraph
	for _, page := range pages {
		text := strings.ReplaceAll(page.Text, "\r\n", "\n")
		for _, p := range paragraphSplitRe.Split(text, -1) {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			paras = append(paras, paragraph{text: p, page: page.PageNumber})
		}
	}
	return paras
}

func sortedPages(pages map[int]bool) []int {
	out := make([]int, 0, len(pages))
	for p := range pages {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func maxPage(pages map[int]bool) int {
	max := 0
	for p := range pages {
		if p > max {
			max = p
		}
	}
	return max
}

// EstimateTokenCount 粗略估算文本的 token 数，约 4 个字符折合 1 个 token。
func EstimateTokenCount(text string) int {
	return len(text) / 4
}
