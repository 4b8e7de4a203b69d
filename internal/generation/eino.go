package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"geminichat/internal/models"
)

type chatModelKey struct {
	model  string
	apiKey string
	topK   int
}

type chatModelFactory func(ctx context.Context, key chatModelKey) (model.BaseChatModel, error)

// EinoClient routes requests through an eino chat model so another vendor, or
// a self-hosted OpenAI compatible server, can stand in for Gemini.
type EinoClient struct {
	provider     string
	defaultModel string
	build        chatModelFactory

	mu    sync.Mutex
	cache map[chatModelKey]model.BaseChatModel
}

// NewEino supports the openai, claude and gemini providers. defaultModel
// replaces the built-in Gemini model ids for the non-gemini providers.
func NewEino(provider, baseURL, defaultModel string) (*EinoClient, error) {
	if provider == "" {
		provider = "gemini"
	}
	build, err := providerFactory(provider, baseURL)
	if err != nil {
		return nil, err
	}
	return newEinoWithFactory(provider, defaultModel, build), nil
}

func newEinoWithFactory(provider, defaultModel string, build chatModelFactory) *EinoClient {
	return &EinoClient{
		provider:     provider,
		defaultModel: defaultModel,
		build:        build,
		cache:        make(map[chatModelKey]model.BaseChatModel),
	}
}

func providerFactory(provider, baseURL string) (chatModelFactory, error) {
	switch provider {
	case "openai":
		return func(ctx context.Context, key chatModelKey) (model.BaseChatModel, error) {
			return openai.NewChatModel(ctx, &openai.ChatModelConfig{
				BaseURL: baseURL,
				Model:   key.model,
				APIKey:  key.apiKey,
			})
		}, nil
	case "claude":
		return func(ctx context.Context, key chatModelKey) (model.BaseChatModel, error) {
			var baseURLPtr *string
			if baseURL != "" {
				baseURLPtr = &baseURL
			}
			topK := int32(key.topK)
			return claude.NewChatModel(ctx, &claude.Config{
				APIKey:    key.apiKey,
				Model:     key.model,
				BaseURL:   baseURLPtr,
				MaxTokens: 1024,
				TopK:      &topK,
			})
		}, nil
	case "gemini":
		return func(ctx context.Context, key chatModelKey) (model.BaseChatModel, error) {
			cfg := &genai.ClientConfig{
				APIKey:  key.apiKey,
				Backend: genai.BackendGeminiAPI,
			}
			if baseURL != "" {
				cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
			}
			client, err := genai.NewClient(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("create genai client: %w", err)
			}
			topK := int32(key.topK)
			return gemini.NewChatModel(ctx, &gemini.Config{
				Client: client,
				Model:  key.model,
				TopK:   &topK,
			})
		}, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func (e *EinoClient) modelName(requested string) string {
	if e.provider == "gemini" || e.defaultModel == "" {
		return requested
	}
	for _, m := range models.KnownModels {
		if string(m) == requested {
			return e.defaultModel
		}
	}
	return requested
}

func (e *EinoClient) chatModel(ctx context.Context, apiKey string, req Request) (model.BaseChatModel, error) {
	key := chatModelKey{model: e.modelName(req.Model), apiKey: apiKey, topK: req.Config.TopK}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.cache[key]; ok {
		return m, nil
	}
	m, err := e.build(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", e.provider, err)
	}
	e.cache[key] = m
	return m, nil
}

func convertMessages(req Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.Contents)+1)
	if strings.TrimSpace(req.SystemInstruction) != "" {
		messages = append(messages, &schema.Message{
			Role:    schema.System,
			Content: req.SystemInstruction,
		})
	}
	for _, c := range req.Contents {
		role := schema.User
		if c.Role == RoleModel {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: c.Text,
		})
	}
	return messages
}

func callOptions(req Request) []model.Option {
	return []model.Option{
		model.WithTemperature(float32(req.Config.Temperature)),
		model.WithMaxTokens(req.Config.MaxOutputTokens),
		model.WithTopP(float32(req.Config.TopP)),
	}
}

func (e *EinoClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	cm, err := e.chatModel(ctx, apiKey, req)
	if err != nil {
		return "", err
	}
	debugLog("eino generate provider=%s model=%s contents=%d", e.provider, req.Model, len(req.Contents))
	resp, err := cm.Generate(ctx, convertMessages(req), callOptions(req)...)
	if err != nil {
		return "", fmt.Errorf("generate %s reply: %w", e.provider, err)
	}
	if resp == nil || resp.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}

func (e *EinoClient) Stream(ctx context.Context, apiKey string, req Request, onChunk func(string) error) (string, error) {
	cm, err := e.chatModel(ctx, apiKey, req)
	if err != nil {
		return "", err
	}
	debugLog("eino stream provider=%s model=%s contents=%d", e.provider, req.Model, len(req.Contents))
	reader, err := cm.Stream(ctx, convertMessages(req), callOptions(req)...)
	if err != nil {
		return "", fmt.Errorf("stream %s reply: %w", e.provider, err)
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("receive %s chunk: %w", e.provider, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if onChunk != nil {
			if err := onChunk(full.String()); err != nil {
				return "", err
			}
		}
	}
	if full.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return full.String(), nil
}
