package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"doclens-go/internal/model"
	"doclens-go/pkg/llm"
)

type fakeLLM struct {
	answer   string
	err      error
	lastMsgs []llm.Message
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.lastMsgs = messages
	return f.answer, f.err
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	return errors.New("not used")
}

func sampleChunks() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{
			DocumentID:   "doc-a",
			DocumentName: "annual-report.pdf",
			ChunkIndex:   0,
			Content:      "2024 年营收为 12 亿元。",
			PageNumbers:  []int{3},
			Score:        0.9,
			PageHasTable: true,
		},
		{
			DocumentID:   "doc-a",
			DocumentName: "annual-report.pdf",
			ChunkIndex:   1,
			Content:      "净利润同比增长 8%。",
			PageNumbers:  []int{4},
			Score:        0.8,
		},
	}
}

func TestGenerateBuildsNumberedReferences(t *testing.T) {
	client := &fakeLLM{answer: "根据 [1]，2024 年营收为 12 亿元。"}
	svc := NewAnswerService(client, nil, 300)

	answer, err := svc.Generate(context.Background(), "2024 年营收是多少？", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != client.answer {
		t.Errorf("answer = %q", answer)
	}

	if len(client.lastMsgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(client.lastMsgs))
	}
	system := client.lastMsgs[0]
	if system.Role != "system" {
		t.Errorf("first message role = %s, want system", system.Role)
	}
	for _, want := range []string{"[1] (annual-report.pdf, 第3页)", "[2] (annual-report.pdf, 第4页)", "<<REF>>", "<<END>>", "表格"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system message missing %q", want)
		}
	}
	if client.lastMsgs[1].Role != "user" || client.lastMsgs[1].Content != "2024 年营收是多少？" {
		t.Errorf("user message = %+v", client.lastMsgs[1])
	}
}

func TestGenerateFallbackOnError(t *testing.T) {
	svc := NewAnswerService(&fakeLLM{err: errors.New("backend down")}, nil, 300)

	answer, err := svc.Generate(context.Background(), "q", sampleChunks())
	if err != nil {
		t.Fatalf("fallback should not surface an error, got %v", err)
	}
	if answer != answerGenerationFailedText {
		t.Errorf("answer = %q, want fallback text", answer)
	}
}

func TestGenerateFallbackOnEmptyAnswer(t *testing.T) {
	svc := NewAnswerService(&fakeLLM{answer: "   "}, nil, 300)

	answer, err := svc.Generate(context.Background(), "q", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != answerGenerationFailedText {
		t.Errorf("answer = %q, want fallback text", answer)
	}
}
