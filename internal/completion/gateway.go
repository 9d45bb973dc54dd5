package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexuvula/roomrelay/internal/config"
	"github.com/cortexuvula/roomrelay/internal/rooms"
)

// ErrRoomNotFound is returned when a completion is requested for a
// room id missing from the directory.
var ErrRoomNotFound = errors.New("room not found")

// client is the subset of the OpenAI client the gateway uses,
// extracted so tests can stub the provider.
type client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway issues one completion request per call, conditioning the
// provider with the room's persona directive. Calls are bounded by the
// configured timeout; failures surface as errors, never panics.
type Gateway struct {
	client client
	rooms  *rooms.Directory

	// mu guards the tuning fields, which are replaceable on config
	// reload. In-flight requests keep the tuning they started with.
	mu           sync.RWMutex
	model        string
	maxTokens    int
	temperature  float32
	timeout      time.Duration
	fallbackText string
}

// New creates a Gateway against a real provider endpoint.
func New(cfg config.CompletionConfig, dir *rooms.Directory) *Gateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newWithClient(cfg, dir, openai.NewClientWithConfig(clientCfg))
}

func newWithClient(cfg config.CompletionConfig, dir *rooms.Directory, c client) *Gateway {
	return &Gateway{
		client:       c,
		rooms:        dir,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout,
		fallbackText: cfg.FallbackText,
	}
}

// UpdateTuning applies reloaded completion settings. The provider
// endpoint and credentials are fixed at startup; model, token budget,
// temperature, timeout and fallback text take effect on the next call.
func (g *Gateway) UpdateTuning(cfg config.CompletionConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.model = cfg.Model
	g.maxTokens = cfg.MaxTokens
	g.temperature = cfg.Temperature
	g.timeout = cfg.Timeout
	g.fallbackText = cfg.FallbackText
}

// Complete asks the provider for one persona reply. The persona
// directive is the fixed system turn; userText is the sole user turn.
// A provider response with no usable content yields the fallback text
// rather than an error; transport failures and timeouts return errors
// for the caller to convert into a user-visible fallback.
func (g *Gateway) Complete(ctx context.Context, roomID, userText string) (string, error) {
	room, ok := g.rooms.Get(roomID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	g.mu.RLock()
	model, maxTokens, temperature := g.model, g.maxTokens, g.temperature
	timeout, fallback := g.timeout, g.fallbackText
	g.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: room.Persona},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("provider returned no usable content", "room", roomID, "model", model)
		return fallback, nil
	}
	return resp.Choices[0].Message.Content, nil
}
