package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GenAIClient uses the Google Gen AI SDK. One SDK client is kept per API key.
type GenAIClient struct {
	baseURL string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGenAI(baseURL string) *GenAIClient {
	return &GenAIClient{
		baseURL: baseURL,
		clients: make(map[string]*genai.Client),
	}
}

func (g *GenAIClient) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

func genaiContents(req Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.Contents))
	for _, c := range req.Contents {
		role := genai.Role(genai.RoleUser)
		if c.Role == RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(c.Text, role))
	}
	return out
}

func genaiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Config.Temperature)),
		TopP:            genai.Ptr(float32(req.Config.TopP)),
		TopK:            genai.Ptr(float32(req.Config.TopK)),
		MaxOutputTokens: int32(req.Config.MaxOutputTokens),
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

func (g *GenAIClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}
	debugLog("genai generate model=%s contents=%d", req.Model, len(req.Contents))
	resp, err := client.Models.GenerateContent(ctx, req.Model, genaiContents(req), genaiConfig(req))
	if err != nil {
		return "", translateGenAIError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *GenAIClient) Stream(ctx context.Context, apiKey string, req Request, onChunk func(string) error) (string, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}
	debugLog("genai stream model=%s contents=%d", req.Model, len(req.Contents))
	var full strings.Builder
	for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, genaiContents(req), genaiConfig(req)) {
		if err != nil {
			return "", translateGenAIError(err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		full.WriteString(text)
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

func translateGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &RemoteError{Status: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &RemoteError{Status: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("genai request: %w", err)
}
