package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"doclens-go/internal/config"
	"doclens-go/internal/model"
)

type fakeRetrieval struct {
	chunks   []model.RetrievedChunk
	err      error
	lastTopK int
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, user *model.User, query string, topK int) ([]model.RetrievedChunk, error) {
	f.lastTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type fakeAnswer struct {
	answer string
	calls  int
}

func (f *fakeAnswer) Generate(ctx context.Context, query string, chunks []model.RetrievedChunk) (string, error) {
	f.calls++
	return f.answer, nil
}

type fakeHistoryRepo struct {
	records []*model.SearchHistory
	err     error
}

func (f *fakeHistoryRepo) Create(record *model.SearchHistory) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeHistoryRepo) FindByUser(userID uint, limit int) ([]model.SearchHistory, error) {
	var out []model.SearchHistory
	for _, r := range f.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeHistoryRepo) SetHelpful(id uint, userID uint, helpful bool) error {
	return nil
}

type fakeSigner struct{}

func (fakeSigner) GetPresignedURL(objectName string, expiry time.Duration) (string, error) {
	return "https://storage.example.com/" + objectName + "?signed", nil
}

func searchTestConfig() config.SearchConfig {
	return config.SearchConfig{DefaultTopK: 5, MinScore: 0.3, AnswerCacheTTLSec: 300}
}

func TestSearchSuccessWithCitations(t *testing.T) {
	retrieval := &fakeRetrieval{chunks: []model.RetrievedChunk{
		{
			DocumentID:   "doc-a",
			DocumentName: "guide.pdf",
			ChunkIndex:   0,
			Content:      "分块内容",
			PageNumbers:  []int{2},
			Score:        0.85,
			ImagePath:    "documents/1/doc-a/pages/page_2.png",
		},
	}}
	answer := &fakeAnswer{answer: "这是生成的回答 [1]。"}
	history := &fakeHistoryRepo{}
	svc := NewSearchService(retrieval, answer, history, fakeSigner{}, searchTestConfig(), 60)

	user := &model.User{ID: 1, Username: "alice"}
	result, err := svc.Search(context.Background(), user, "问题", 3, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Answer != answer.answer {
		t.Errorf("Answer = %q", result.Answer)
	}
	if result.Query != "问题" {
		t.Errorf("Query = %q", result.Query)
	}
	if result.ProcessingTimeMs < 0 {
		t.Errorf("ProcessingTimeMs = %d", result.ProcessingTimeMs)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citation count = %d, want 1", len(result.Citations))
	}
	citation := result.Citations[0]
	if citation.PageNumber != 2 || citation.DocumentName != "guide.pdf" {
		t.Errorf("citation = %+v", citation)
	}
	if citation.ImageURL == "" {
		t.Error("citation should carry a signed image URL")
	}

	if len(history.records) != 1 {
		t.Fatalf("history count = %d, want 1", len(history.records))
	}
	record := history.records[0]
	if record.UserID != 1 || record.Query != "问题" || record.ChunksRetrieved != 1 {
		t.Errorf("history record = %+v", record)
	}
	if record.Response != answer.answer {
		t.Errorf("history response = %q", record.Response)
	}
}

func TestSearchTruncatesCitationOnRuneBoundary(t *testing.T) {
	retrieval := &fakeRetrieval{chunks: []model.RetrievedChunk{{
		DocumentID:   "doc-a",
		DocumentName: "long.pdf",
		ChunkIndex:   0,
		Content:      strings.Repeat("中", 400),
		PageNumbers:  []int{1},
		Score:        0.9,
	}}}
	svc := NewSearchService(retrieval, &fakeAnswer{answer: "回答"}, &fakeHistoryRepo{}, fakeSigner{}, searchTestConfig(), 60)

	result, err := svc.Search(context.Background(), &model.User{ID: 1, Username: "alice"}, "q", 1, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Citations) != 1 {
		t.Fatalf("citation count = %d, want 1", len(result.Citations))
	}
	content := result.Citations[0].ChunkContent
	if len(content) > 1000 {
		t.Errorf("citation content length = %d, want <= 1000", len(content))
	}
	// 截断不能把多字节字符切成半个
	if !utf8.ValidString(content) {
		t.Errorf("citation content should be valid UTF-8: %q", content[len(content)-6:])
	}
}

func TestSearchNoHitsReturnsFixedAnswer(t *testing.T) {
	retrieval := &fakeRetrieval{chunks: []model.RetrievedChunk{}}
	answer := &fakeAnswer{answer: "should not be called"}
	history := &fakeHistoryRepo{}
	svc := NewSearchService(retrieval, answer, history, fakeSigner{}, searchTestConfig(), 60)

	result, err := svc.Search(context.Background(), &model.User{ID: 1, Username: "alice"}, "冷门问题", 0, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if result.Answer != noResultAnswerText {
		t.Errorf("Answer = %q, want fixed no-result text", result.Answer)
	}
	if len(result.Citations) != 0 {
		t.Errorf("citations should be empty, got %d", len(result.Citations))
	}
	if answer.calls != 0 {
		t.Error("answer generation should be skipped on zero hits")
	}
	// 零命中同样写入历史
	if len(history.records) != 1 {
		t.Fatalf("history count = %d, want 1", len(history.records))
	}
	if history.records[0].ChunksRetrieved != 0 {
		t.Errorf("ChunksRetrieved = %d, want 0", history.records[0].ChunksRetrieved)
	}
	// topK 未指定时回退到默认值
	if retrieval.lastTopK != 5 {
		t.Errorf("topK = %d, want default 5", retrieval.lastTopK)
	}
}

func TestSearchHistoryWriteFailureIsTolerated(t *testing.T) {
	retrieval := &fakeRetrieval{chunks: []model.RetrievedChunk{}}
	history := &fakeHistoryRepo{err: errors.New("db down")}
	svc := NewSearchService(retrieval, &fakeAnswer{}, history, fakeSigner{}, searchTestConfig(), 60)

	result, err := svc.Search(context.Background(), &model.User{ID: 1, Username: "alice"}, "q", 1, false)
	if err != nil {
		t.Fatalf("history failure should not fail the search: %v", err)
	}
	if result.Answer != noResultAnswerText {
		t.Errorf("Answer = %q", result.Answer)
	}
}

func TestSearchRetrievalErrorPropagates(t *testing.T) {
	retrieval := &fakeRetrieval{err: errors.New("search backend down")}
	svc := NewSearchService(retrieval, &fakeAnswer{}, &fakeHistoryRepo{}, fakeSigner{}, searchTestConfig(), 60)

	if _, err := svc.Search(context.Background(), &model.User{ID: 1, Username: "alice"}, "q", 1, false); err == nil {
		t.Fatal("expected retrieval error to propagate")
	}
}
