package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexuvula/roomrelay/internal/config"
	"github.com/cortexuvula/roomrelay/internal/rooms"
)

type stubClient struct {
	resp openai.ChatCompletionResponse
	err  error
	got  openai.ChatCompletionRequest
}

func (s *stubClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.got = req
	return s.resp, s.err
}

func testConfig() config.CompletionConfig {
	return config.CompletionConfig{
		Model:        "gpt-4o-mini",
		MaxTokens:    150,
		Temperature:  0.8,
		Timeout:      5 * time.Second,
		FallbackText: "I'm having trouble thinking right now...",
	}
}

func testDirectory(t *testing.T) *rooms.Directory {
	t.Helper()
	d, err := rooms.NewDirectory([]rooms.Room{
		{ID: "silent-but-deadly", Name: "Silent But Deadly", Persona: "Be terse."},
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCompleteSuccess(t *testing.T) {
	stub := &stubClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "quiet."}},
			},
		},
	}
	g := newWithClient(testConfig(), testDirectory(t), stub)

	text, err := g.Complete(context.Background(), "silent-but-deadly", "say something")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if text != "quiet." {
		t.Errorf("text = %q, want %q", text, "quiet.")
	}

	// The persona directive must be the system turn, the user text the
	// sole user turn.
	if len(stub.got.Messages) != 2 {
		t.Fatalf("request had %d messages, want 2", len(stub.got.Messages))
	}
	if stub.got.Messages[0].Role != openai.ChatMessageRoleSystem || stub.got.Messages[0].Content != "Be terse." {
		t.Errorf("system turn = %+v", stub.got.Messages[0])
	}
	if stub.got.Messages[1].Role != openai.ChatMessageRoleUser || stub.got.Messages[1].Content != "say something" {
		t.Errorf("user turn = %+v", stub.got.Messages[1])
	}
	if stub.got.Model != "gpt-4o-mini" || stub.got.MaxTokens != 150 {
		t.Errorf("request tuning = model %q maxTokens %d", stub.got.Model, stub.got.MaxTokens)
	}
}

func TestUpdateTuningAppliesOnNextRequest(t *testing.T) {
	stub := &stubClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "quiet."}},
			},
		},
	}
	g := newWithClient(testConfig(), testDirectory(t), stub)

	reloaded := testConfig()
	reloaded.Model = "gpt-4o"
	reloaded.MaxTokens = 60
	reloaded.Temperature = 0.2
	reloaded.FallbackText = "try again in a moment."
	g.UpdateTuning(reloaded)

	if _, err := g.Complete(context.Background(), "silent-but-deadly", "hi"); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if stub.got.Model != "gpt-4o" || stub.got.MaxTokens != 60 {
		t.Errorf("request tuning = model %q maxTokens %d, want reloaded values", stub.got.Model, stub.got.MaxTokens)
	}
	if stub.got.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", stub.got.Temperature)
	}

	// The reloaded fallback covers empty provider content too.
	stub.resp = openai.ChatCompletionResponse{}
	text, err := g.Complete(context.Background(), "silent-but-deadly", "hi")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if text != "try again in a moment." {
		t.Errorf("text = %q, want reloaded fallback", text)
	}
}

func TestCompleteUnknownRoom(t *testing.T) {
	g := newWithClient(testConfig(), testDirectory(t), &stubClient{})

	_, err := g.Complete(context.Background(), "no-such-room", "hi")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestCompleteProviderError(t *testing.T) {
	stub := &stubClient{err: errors.New("connection refused")}
	g := newWithClient(testConfig(), testDirectory(t), stub)

	_, err := g.Complete(context.Background(), "silent-but-deadly", "hi")
	if err == nil {
		t.Fatal("expected error from failed provider call")
	}
}

func TestCompleteEmptyChoicesFallsBack(t *testing.T) {
	stub := &stubClient{resp: openai.ChatCompletionResponse{}}
	g := newWithClient(testConfig(), testDirectory(t), stub)

	text, err := g.Complete(context.Background(), "silent-but-deadly", "hi")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if text != "I'm having trouble thinking right now..." {
		t.Errorf("text = %q, want fallback", text)
	}
}

func TestCompleteEmptyContentFallsBack(t *testing.T) {
	stub := &stubClient{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{}}},
		},
	}
	g := newWithClient(testConfig(), testDirectory(t), stub)

	text, err := g.Complete(context.Background(), "silent-but-deadly", "hi")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if text == "" {
		t.Error("empty content should yield the fallback text")
	}
}
