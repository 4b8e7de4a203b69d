package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"geminichat/internal/config"
	"geminichat/internal/conversation"
	"geminichat/internal/generation"
	"geminichat/internal/models"
	"geminichat/internal/notify"
	"geminichat/internal/settings"
	"geminichat/internal/storage"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	router, gen, _ := newTestServer(t)

	// The first send is refused until a key is stored.
	resp := postSSE(t, router, "/api/conversation/msg", map[string]any{"content": "Hello"}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	notesResp := doJSONRequest(t, router, http.MethodGet, "/api/notifications", nil, nil)
	assertStatus(t, notesResp, http.StatusOK)
	var notes struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	decodeJSON(t, notesResp.Body.Bytes(), &notes)
	if len(notes.Notifications) != 1 || notes.Notifications[0].Title != "API Key Required" {
		t.Fatalf("expected api key notice, got %+v", notes.Notifications)
	}

	keyResp := doJSONRequest(t, router, http.MethodPatch, "/api/settings", map[string]any{
		"key":   "apiKey",
		"value": "test-key-1234",
	}, nil)
	assertStatus(t, keyResp, http.StatusOK)
	var view struct {
		APIKey    string `json:"apiKey"`
		HasAPIKey bool   `json:"hasApiKey"`
	}
	decodeJSON(t, keyResp.Body.Bytes(), &view)
	if !view.HasAPIKey || view.APIKey != "*********1234" {
		t.Fatalf("expected masked key, got %+v", view)
	}

	firstMessage := "Hello, remember my name is Bob."
	sendResp := postSSE(t, router, "/api/conversation/msg", map[string]any{"content": firstMessage}, nil)
	assertStatus(t, sendResp, http.StatusOK)
	events := parseSSE(t, sendResp.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 SSE events, got %d: %+v", len(events), events)
	}
	if events[0].Name != "ack" {
		t.Fatalf("expected first SSE event to be ack, got %s", events[0].Name)
	}
	var ackPayload struct {
		ChatID  string `json:"chat_id"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	decodeJSON(t, []byte(events[0].Data), &ackPayload)
	if ackPayload.Message.Content != firstMessage {
		t.Fatalf("ack payload mismatch, want %q got %q", firstMessage, ackPayload.Message.Content)
	}
	if events[1].Name != "done" {
		t.Fatalf("expected done event, got %s", events[1].Name)
	}
	var donePayload struct {
		Title string `json:"title"`
		AI    struct {
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(events[1].Data), &donePayload)
	if donePayload.Title != "Hello, remember my name is Bob..." {
		t.Fatalf("unexpected title %q", donePayload.Title)
	}
	if donePayload.AI.Content != `Mock response to "Hello, remember my name is Bob."` {
		t.Fatalf("unexpected ai content %q", donePayload.AI.Content)
	}
	if gen.lastKey() != "test-key-1234" {
		t.Fatalf("generator got key %q", gen.lastKey())
	}

	chatResp := doJSONRequest(t, router, http.MethodGet, "/api/chats/"+ackPayload.ChatID, nil, nil)
	assertStatus(t, chatResp, http.StatusOK)
	var chat models.Chat
	decodeJSON(t, chatResp.Body.Bytes(), &chat)
	if len(chat.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(chat.Messages))
	}

	stateResp := doJSONRequest(t, router, http.MethodGet, "/api/state", nil, nil)
	assertStatus(t, stateResp, http.StatusOK)
	var state struct {
		IsLoading     bool   `json:"is_loading"`
		CurrentChatID string `json:"current_chat_id"`
	}
	decodeJSON(t, stateResp.Body.Bytes(), &state)
	if state.IsLoading || state.CurrentChatID != ackPayload.ChatID {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestConversationStreamsChunks(t *testing.T) {
	router, gen, _ := newTestServer(t, conversation.WithStreaming(true))
	gen.chunks = []string{"Hi ", "Bob"}
	setKey(t, router)

	resp := postSSE(t, router, "/api/conversation/msg", map[string]any{"content": "hey"}, nil)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "ack,stream,stream,done" {
		t.Fatalf("unexpected events %v", names)
	}
	var chunk struct {
		Content string `json:"content"`
	}
	decodeJSON(t, []byte(events[2].Data), &chunk)
	if chunk.Content != "Hi Bob" {
		t.Fatalf("expected accumulated chunk, got %q", chunk.Content)
	}
}

func TestConversationFailureEmitsErrorEvent(t *testing.T) {
	router, gen, _ := newTestServer(t)
	gen.err = &generation.RemoteError{Status: http.StatusTooManyRequests, Message: "quota exceeded"}
	setKey(t, router)

	resp := postSSE(t, router, "/api/conversation/msg", map[string]any{"content": "hey"}, nil)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	if len(events) != 2 || events[1].Name != "error" {
		t.Fatalf("expected ack then error, got %+v", events)
	}
	var payload struct {
		Message string `json:"message"`
		AI      struct {
			Content string `json:"content"`
		} `json:"ai_message"`
	}
	decodeJSON(t, []byte(events[1].Data), &payload)
	if !strings.Contains(payload.Message, "quota exceeded") {
		t.Fatalf("expected remote message, got %q", payload.Message)
	}
	if payload.AI.Content != conversation.ApologyText {
		t.Fatalf("expected apology placeholder, got %q", payload.AI.Content)
	}
}

func TestConversationRejectsEmptyContent(t *testing.T) {
	router, _, _ := newTestServer(t)
	setKey(t, router)
	resp := postSSE(t, router, "/api/conversation/msg", map[string]any{"content": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestConversationInProgressConflict(t *testing.T) {
	router, gen, _ := newTestServer(t)
	setKey(t, router)
	release := make(chan struct{})
	started := make(chan struct{})
	gen.setBlock(release, started)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postSSE(t, router, "/api/conversation/msg", map[string]any{"content": "first"}, nil)
	}()
	<-started

	resp := postSSE(t, router, "/api/conversation/msg", map[string]any{"content": "second"}, nil)
	assertStatus(t, resp, http.StatusConflict)

	close(release)
	first := <-done
	assertStatus(t, first, http.StatusOK)
}

func TestChatRoutes(t *testing.T) {
	router, _, _ := newTestServer(t)

	listResp := doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Chats         []models.Chat `json:"chats"`
		CurrentChatID string        `json:"current_chat_id"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Chats) != 1 || list.CurrentChatID != list.Chats[0].ID {
		t.Fatalf("expected one active chat after hydration, got %+v", list)
	}
	first := list.Chats[0].ID

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/chats", nil, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var created models.Chat
	decodeJSON(t, createResp.Body.Bytes(), &created)
	if created.Title != models.DefaultChatTitle {
		t.Fatalf("unexpected title %q", created.Title)
	}

	renameResp := doJSONRequest(t, router, http.MethodPatch, "/api/chats/"+first, map[string]string{"title": "Trip Planning"}, nil)
	assertStatus(t, renameResp, http.StatusOK)

	searchResp := doJSONRequest(t, router, http.MethodGet, "/api/chats?q=trip", nil, nil)
	assertStatus(t, searchResp, http.StatusOK)
	decodeJSON(t, searchResp.Body.Bytes(), &list)
	if len(list.Chats) != 1 || list.Chats[0].ID != first {
		t.Fatalf("expected only the trip chat, got %+v", list.Chats)
	}

	starResp := doJSONRequest(t, router, http.MethodPost, "/api/chats/"+first+"/star", map[string]bool{"starred": true}, nil)
	assertStatus(t, starResp, http.StatusOK)
	partResp := doJSONRequest(t, router, http.MethodGet, "/api/chats/list", nil, nil)
	assertStatus(t, partResp, http.StatusOK)
	var parts conversation.ChatList
	decodeJSON(t, partResp.Body.Bytes(), &parts)
	if len(parts.Starred) != 1 || parts.Starred[0].ID != first || len(parts.Recent) != 1 {
		t.Fatalf("unexpected partitions %+v", parts)
	}

	setResp := doJSONRequest(t, router, http.MethodPut, "/api/chats/current", map[string]string{"chat_id": first}, nil)
	assertStatus(t, setResp, http.StatusOK)
	missingResp := doJSONRequest(t, router, http.MethodPut, "/api/chats/current", map[string]string{"chat_id": "nope"}, nil)
	assertStatus(t, missingResp, http.StatusNotFound)
	currentResp := doJSONRequest(t, router, http.MethodGet, "/api/chats/current", nil, nil)
	assertStatus(t, currentResp, http.StatusOK)
	var current models.Chat
	decodeJSON(t, currentResp.Body.Bytes(), &current)
	if current.ID != first {
		t.Fatalf("expected %s active, got %s", first, current.ID)
	}

	delResp := doJSONRequest(t, router, http.MethodDelete, "/api/chats/"+first, nil, nil)
	assertStatus(t, delResp, http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/api/chats/"+first, nil, nil), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, "/api/chats/"+first, nil, nil), http.StatusNotFound)

	currentResp = doJSONRequest(t, router, http.MethodGet, "/api/chats/current", nil, nil)
	assertStatus(t, currentResp, http.StatusOK)
	decodeJSON(t, currentResp.Body.Bytes(), &current)
	if current.ID != created.ID {
		t.Fatalf("expected successor %s, got %s", created.ID, current.ID)
	}
}

func TestMessageRoutes(t *testing.T) {
	router, _, _ := newTestServer(t)
	createResp := doJSONRequest(t, router, http.MethodPost, "/api/chats", nil, nil)
	var chat models.Chat
	decodeJSON(t, createResp.Body.Bytes(), &chat)
	base := "/api/chats/" + chat.ID + "/messages"

	addResp := doJSONRequest(t, router, http.MethodPost, base, map[string]string{"content": "draft"}, nil)
	assertStatus(t, addResp, http.StatusCreated)
	var msg models.Message
	decodeJSON(t, addResp.Body.Bytes(), &msg)
	if msg.Role != models.RoleUser || msg.ID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}

	badRole := doJSONRequest(t, router, http.MethodPost, base, map[string]string{"role": "system", "content": "x"}, nil)
	assertStatus(t, badRole, http.StatusBadRequest)

	updResp := doJSONRequest(t, router, http.MethodPut, base+"/"+msg.ID, map[string]string{"content": "final"}, nil)
	assertStatus(t, updResp, http.StatusOK)
	var updated models.Chat
	decodeJSON(t, updResp.Body.Bytes(), &updated)
	if updated.Messages[0].Content != "final" {
		t.Fatalf("expected updated content, got %q", updated.Messages[0].Content)
	}
	if updated.Title != "draft" {
		t.Fatalf("title comes from the first message, got %q", updated.Title)
	}

	assertStatus(t, doJSONRequest(t, router, http.MethodPut, base+"/missing", map[string]string{"content": "x"}, nil), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, base+"/"+msg.ID, nil, nil), http.StatusNoContent)
	assertStatus(t, doJSONRequest(t, router, http.MethodDelete, base+"/"+msg.ID, nil, nil), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/api/chats/missing/messages", map[string]string{"content": "x"}, nil), http.StatusNotFound)
}

func TestSettingsRoutes(t *testing.T) {
	router, _, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodGet, "/api/settings", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeJSON(t, resp.Body.Bytes(), &got)
	if got["model"] != "gemini-1.5-pro" || got["hasApiKey"] != false || got["apiKey"] != nil {
		t.Fatalf("unexpected defaults %+v", got)
	}

	resp = doJSONRequest(t, router, http.MethodPatch, "/api/settings", map[string]any{"key": "temperature", "value": 0.3}, nil)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &got)
	if got["temperature"] != 0.3 || got["topK"] != float64(40) {
		t.Fatalf("unexpected settings after update %+v", got)
	}

	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/settings", map[string]any{"key": "temperature", "value": 3}, nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/settings", map[string]any{"key": "theme", "value": "dark"}, nil), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, router, http.MethodPatch, "/api/settings", map[string]any{"value": 1}, nil), http.StatusBadRequest)

	resp = doJSONRequest(t, router, http.MethodPost, "/api/settings/reset", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp.Body.Bytes(), &got)
	if got["temperature"] != 0.7 {
		t.Fatalf("expected defaults after reset, got %+v", got)
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/api/models", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var modelList struct {
		Models []string `json:"models"`
	}
	decodeJSON(t, resp.Body.Bytes(), &modelList)
	if len(modelList.Models) != len(models.KnownModels) {
		t.Fatalf("unexpected models %v", modelList.Models)
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"abc":       "***",
		"abcdefgh":  "****efgh",
		"AIzaSy123": "*****y123",
	}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Fatalf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		lines := strings.Split(chunk, "\n")
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func newTestServer(t *testing.T, opts ...conversation.Option) (*gin.Engine, *mockGenerator, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Databases["sqlite3"] = config.DatabaseConfig{DSN: ":memory:"}
	kv, err := storage.OpenKV(cfg)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	ctx := context.Background()
	settingsStore, err := settings.New(ctx, kv)
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}
	feed := notify.NewFeed(10)
	gen := &mockGenerator{}
	chatStore, err := conversation.New(ctx, kv, settingsStore, gen, append([]conversation.Option{conversation.WithNotifier(feed)}, opts...)...)
	if err != nil {
		t.Fatalf("conversation store: %v", err)
	}
	handler := NewHandler(settingsStore, chatStore, feed)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, gen, handler
}

func setKey(t *testing.T, router *gin.Engine) {
	t.Helper()
	resp := doJSONRequest(t, router, http.MethodPatch, "/api/settings", map[string]any{"key": "apiKey", "value": "mock"}, nil)
	assertStatus(t, resp, http.StatusOK)
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

type mockGenerator struct {
	mu      sync.Mutex
	err     error
	chunks  []string
	keys    []string
	block   chan struct{}
	started chan struct{}
}

func (m *mockGenerator) setBlock(block, started chan struct{}) {
	m.mu.Lock()
	m.block, m.started = block, started
	m.mu.Unlock()
}

func (m *mockGenerator) lastKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.keys) == 0 {
		return ""
	}
	return m.keys[len(m.keys)-1]
}

func (m *mockGenerator) Generate(ctx context.Context, apiKey string, req generation.Request) (string, error) {
	m.mu.Lock()
	m.keys = append(m.keys, apiKey)
	block, started := m.block, m.started
	m.block, m.started = nil, nil
	m.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	prompt := req.Contents[len(req.Contents)-1].Text
	return fmt.Sprintf("Mock response to %q", prompt), nil
}

func (m *mockGenerator) Stream(ctx context.Context, apiKey string, req generation.Request, onChunk func(string) error) (string, error) {
	if len(m.chunks) == 0 {
		return m.Generate(ctx, apiKey, req)
	}
	acc := ""
	for _, c := range m.chunks {
		acc += c
		if err := onChunk(acc); err != nil {
			return "", err
		}
	}
	return acc, nil
}

