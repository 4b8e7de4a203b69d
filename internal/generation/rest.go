package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 10 * 1024 * 1024

// RESTClient speaks the generateContent wire format directly.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewREST returns a client for baseURL (DefaultBaseURL when empty). Timeouts
// come from the request context, so the default client carries none.
func NewREST(baseURL string, httpClient *http.Client) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
}

type wireRequest struct {
	Contents          []wireContent        `json:"contents"`
	GenerationConfig  wireGenerationConfig `json:"generationConfig"`
	SystemInstruction *wireContent         `json:"systemInstruction,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type wireError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (r wireResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func (r wireResponse) emptyReason() error {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("%w: blocked (%s)", ErrEmptyResponse, r.PromptFeedback.BlockReason)
	}
	return ErrEmptyResponse
}

func encodeRequest(req Request) ([]byte, error) {
	body := wireRequest{
		Contents: make([]wireContent, 0, len(req.Contents)),
		GenerationConfig: wireGenerationConfig{
			Temperature:     req.Config.Temperature,
			MaxOutputTokens: req.Config.MaxOutputTokens,
			TopK:            req.Config.TopK,
			TopP:            req.Config.TopP,
		},
	}
	for _, c := range req.Contents {
		body.Contents = append(body.Contents, wireContent{Role: c.Role, Parts: []wirePart{{Text: c.Text}}})
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		body.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemInstruction}}}
	}
	return json.Marshal(body)
}

func (c *RESTClient) endpoint(model, method, apiKey string, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("key", apiKey)
	return fmt.Sprintf("%s/v1beta/models/%s:%s?%s", c.baseURL, url.PathEscape(model), method, q.Encode())
}

func (c *RESTClient) post(ctx context.Context, target string, req Request) (*http.Response, error) {
	payload, err := encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}
	return resp, nil
}

// Generate performs one generateContent call and returns the concatenated
// text of the first candidate.
func (c *RESTClient) Generate(ctx context.Context, apiKey string, req Request) (string, error) {
	debugLog("rest generate model=%s contents=%d", req.Model, len(req.Contents))
	resp, err := c.post(ctx, c.endpoint(req.Model, "generateContent", apiKey, nil), req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var parsed wireResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text := parsed.text()
	if text == "" {
		return "", parsed.emptyReason()
	}
	return text, nil
}

// Stream uses streamGenerateContent with server-sent events.
func (c *RESTClient) Stream(ctx context.Context, apiKey string, req Request, onChunk func(string) error) (string, error) {
	debugLog("rest stream model=%s contents=%d", req.Model, len(req.Contents))
	target := c.endpoint(req.Model, "streamGenerateContent", apiKey, url.Values{"alt": {"sse"}})
	resp, err := c.post(ctx, target, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var (
		full strings.Builder
		last wireResponse
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk wireResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		last = chunk
		text := chunk.text()
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
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	if full.Len() == 0 {
		return "", last.emptyReason()
	}
	return full.String(), nil
}

func handleErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	remote := &RemoteError{Status: resp.StatusCode}

	var parsed wireError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		remote.Message = parsed.Error.Message
	} else {
		remote.Message = strings.TrimSpace(string(raw))
		if remote.Message == "" {
			remote.Message = http.StatusText(resp.StatusCode)
		}
	}
	debugLog("rest error status=%d message=%s", remote.Status, remote.Message)
	return remote
}

// AsRemote unwraps a *RemoteError from err.
func AsRemote(err error) (*RemoteError, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote, true
	}
	return nil, false
}
