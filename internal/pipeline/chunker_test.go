package pipeline

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"doclens-go/internal/model"
)

func TestChunkPagesSingleChunkSpansPages(t *testing.T) {
	c := NewChunker(1000, 200, 10)
	pages := []PageText{
		{PageNumber: 1, Text: "Alpha paragraph with some content."},
		{PageNumber: 2, Text: "Beta paragraph on the next page."},
	}

	chunks := c.ChunkPages(pages)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !reflect.DeepEqual(chunks[0].PageNumbers, []int{1, 2}) {
		t.Errorf("PageNumbers = %v, want [1 2]", chunks[0].PageNumbers)
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("ChunkIndex = %d, want 0", chunks[0].ChunkIndex)
	}
	if chunks[0].ChunkType != model.ChunkTypeText {
		t.Errorf("ChunkType = %s, want %s", chunks[0].ChunkType, model.ChunkTypeText)
	}
	if !strings.Contains(chunks[0].Content, "Alpha paragraph") || !strings.Contains(chunks[0].Content, "Beta paragraph") {
		t.Errorf("chunk content missing page text: %q", chunks[0].Content)
	}
}

func TestChunkPagesOverflowCarriesOverlap(t *testing.T) {
	c := NewChunker(40, 15, 5)
	pages := []PageText{
		{PageNumber: 1, Text: "First sentence here. Second part lives."},
		{PageNumber: 2, Text: "Third paragraph follows on another page."},
	}

	chunks := c.ChunkPages(pages)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !reflect.DeepEqual(chunks[0].PageNumbers, []int{1}) {
		t.Errorf("chunk 0 PageNumbers = %v, want [1]", chunks[0].PageNumbers)
	}
	// 重叠文本取自上一块末尾，新块因此同时归属两页
	if !reflect.DeepEqual(chunks[1].PageNumbers, []int{1, 2}) {
		t.Errorf("chunk 1 PageNumbers = %v, want [1 2]", chunks[1].PageNumbers)
	}
	if !strings.HasPrefix(chunks[1].Content, "part lives.") {
		t.Errorf("chunk 1 should start with overlap text, got %q", chunks[1].Content)
	}
	for i, ch := range chunks {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d ChunkIndex = %d", i, ch.ChunkIndex)
		}
		if ch.TokenCount != EstimateTokenCount(ch.Content) {
			t.Errorf("chunk %d TokenCount = %d", i, ch.TokenCount)
		}
	}
}

func TestChunkPagesDropsUndersizedChunks(t *testing.T) {
	c := NewChunker(1000, 200, 100)
	chunks := c.ChunkPages([]PageText{{PageNumber: 1, Text: "Hi."}})
	if len(chunks) != 0 {
		t.Errorf("undersized text should yield no chunks, got %d", len(chunks))
	}
}

func TestChunkPagesEmptyInput(t *testing.T) {
	c := NewChunker(1000, 200, 100)
	if chunks := c.ChunkPages(nil); chunks != nil {
		t.Errorf("nil pages should return nil, got %v", chunks)
	}
	blank := []PageText{{PageNumber: 1, Text: "  \n\t  "}}
	if chunks := c.ChunkPages(blank); chunks != nil {
		t.Errorf("blank pages should return nil, got %v", chunks)
	}
}

func TestChunkPagesDeterministic(t *testing.T) {
	c := NewChunker(300, 50, 20)
	var pages []PageText
	for p := 1; p <= 4; p++ {
		var b strings.Builder
		for i := 0; i < 6; i++ {
			fmt.Fprintf(&b, "Page %d paragraph %d contains enough words to force several chunk boundaries. ", p, i)
			b.WriteString("\n\n")
		}
		pages = append(pages, PageText{PageNumber: p, Text: b.String()})
	}

	first := c.ChunkPages(pages)
	second := c.ChunkPages(pages)
	if len(first) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same input should produce identical chunks")
	}
}

func TestOverlapTextKeepsRuneBoundary(t *testing.T) {
	c := NewChunker(300, 50, 20)
	// 没有句点和空格的中文文本，截断点必然落在多字节字符上
	text := strings.Repeat("中文内容没有空格或句点", 10)

	got := c.overlapText(text)
	if !utf8.ValidString(got) {
		t.Errorf("overlap text should be valid UTF-8: %q", got)
	}
	if got == "" || len(got) > c.ChunkOverlap {
		t.Errorf("overlap length = %d, want 1..%d", len(got), c.ChunkOverlap)
	}
}

func TestEstimateTokenCount(t *testing.T) {
	if got := EstimateTokenCount(strings.Repeat("a", 40)); got != 10 {
		t.Errorf("EstimateTokenCount = %d, want 10", got)
	}
}
