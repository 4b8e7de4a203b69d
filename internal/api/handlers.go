package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"geminichat/internal/conversation"
	"geminichat/internal/models"
	"geminichat/internal/notify"
	"geminichat/internal/settings"
)

// NotificationFeed exposes the notices raised by the stores.
type NotificationFeed interface {
	Recent() []notify.Notification
}

// Handler wires HTTP routes to the settings and conversation stores.
type Handler struct {
	settings *settings.Store
	chats    *conversation.Store
	feed     NotificationFeed
}

// NewHandler constructs a Handler instance.
func NewHandler(settingsStore *settings.Store, chatStore *conversation.Store, feed NotificationFeed) *Handler {
	return &Handler{
		settings: settingsStore,
		chats:    chatStore,
		feed:     feed,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/settings", h.getSettings)
	api.PATCH("/settings", h.updateSetting)
	api.POST("/settings/reset", h.resetSettings)
	api.GET("/models", h.listModels)

	api.GET("/chats", h.listChats)
	api.GET("/chats/list", h.chatList)
	api.POST("/chats", h.createChat)
	api.GET("/chats/current", h.currentChat)
	api.PUT("/chats/current", h.setCurrentChat)
	api.GET("/chats/:chat_id", h.getChat)
	api.DELETE("/chats/:chat_id", h.deleteChat)
	api.PATCH("/chats/:chat_id", h.renameChat)
	api.POST("/chats/:chat_id/star", h.starChat)
	api.POST("/chats/:chat_id/messages", h.addMessage)
	api.PUT("/chats/:chat_id/messages/:message_id", h.updateMessage)
	api.DELETE("/chats/:chat_id/messages/:message_id", h.deleteMessage)

	api.POST("/conversation/msg", h.captureInput)
	api.GET("/notifications", h.notifications)
	api.GET("/state", h.state)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrSendInProgress):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrMissingCredential),
		errors.Is(err, conversation.ErrEmptyPrompt),
		errors.Is(err, conversation.ErrInvalidRole),
		errors.Is(err, conversation.ErrEmptyTitle),
		errors.Is(err, settings.ErrUnknownSetting),
		errors.Is(err, settings.ErrInvalidSetting):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// Settings interface
type settingsView struct {
	models.Settings
	HasAPIKey bool `json:"hasApiKey"`
}

// maskKey keeps the last four characters of the credential.
func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func (h *Handler) settingsPayload() settingsView {
	st := h.settings.Get()
	view := settingsView{Settings: st, HasAPIKey: st.HasAPIKey()}
	if st.APIKey != nil {
		masked := maskKey(*st.APIKey)
		view.APIKey = &masked
	}
	return view
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsPayload())
}

func (h *Handler) updateSetting(c *gin.Context) {
	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var value any
	if len(req.Value) > 0 {
		if err := json.Unmarshal(req.Value, &value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid setting value"})
			return
		}
	}
	if err := h.settings.Update(c.Request.Context(), req.Key, value); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, h.settingsPayload())
}

func (h *Handler) resetSettings(c *gin.Context) {
	if err := h.settings.Reset(c.Request.Context()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, h.settingsPayload())
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.settings.Models()})
}

// Chat interface
func (h *Handler) listChats(c *gin.Context) {
	var chats []models.Chat
	if q, ok := c.GetQuery("q"); ok {
		chats = h.chats.SearchChats(q)
	} else {
		chats = h.chats.FilteredChats()
	}
	c.JSON(http.StatusOK, gin.H{
		"chats":           chats,
		"current_chat_id": nullableID(h.chats.ActiveChatID()),
		"is_loading":      h.chats.IsLoading(),
	})
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func (h *Handler) chatList(c *gin.Context) {
	c.JSON(http.StatusOK, h.chats.ChatList())
}

func (h *Handler) createChat(c *gin.Context) {
	chat, err := h.chats.CreateChat(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *Handler) currentChat(c *gin.Context) {
	chat, ok := h.chats.CurrentChat()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active chat"})
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) setCurrentChat(c *gin.Context) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ChatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	if err := h.chats.SetActiveChat(c.Request.Context(), req.ChatID); err != nil {
		abortWith(c, err)
		return
	}
	chat, _ := h.chats.CurrentChat()
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) getChat(c *gin.Context) {
	chat, err := h.chats.Chat(c.Param("chat_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) deleteChat(c *gin.Context) {
	if err := h.chats.DeleteChat(c.Request.Context(), c.Param("chat_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) renameChat(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	chatID := c.Param("chat_id")
	if err := h.chats.RenameChat(c.Request.Context(), chatID, req.Title); err != nil {
		abortWith(c, err)
		return
	}
	h.respondChat(c, chatID)
}

func (h *Handler) starChat(c *gin.Context) {
	var req struct {
		Starred *bool `json:"starred"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Starred == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "starred is required"})
		return
	}
	chatID := c.Param("chat_id")
	if err := h.chats.StarChat(c.Request.Context(), chatID, *req.Starred); err != nil {
		abortWith(c, err)
		return
	}
	h.respondChat(c, chatID)
}

func (h *Handler) respondChat(c *gin.Context, chatID string) {
	chat, err := h.chats.Chat(chatID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// Message interface
func (h *Handler) addMessage(c *gin.Context) {
	var req struct {
		Role    models.Role `json:"role"`
		Content string      `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	msg, err := h.chats.AddMessage(c.Request.Context(), c.Param("chat_id"), req.Role, req.Content)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) updateMessage(c *gin.Context) {
	var req struct {
		Content *string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	chatID := c.Param("chat_id")
	if err := h.chats.UpdateMessage(c.Request.Context(), chatID, c.Param("message_id"), *req.Content); err != nil {
		abortWith(c, err)
		return
	}
	h.respondChat(c, chatID)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.chats.DeleteMessage(c.Request.Context(), c.Param("chat_id"), c.Param("message_id")); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// User input interface
type inputRequest struct {
	Content string `json:"content"`
}

// captureInput answers with server-sent events once the prompt is accepted.
// Errors raised before that point are plain JSON responses.
func (h *Handler) captureInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var (
		streaming bool
		flusher   http.Flusher
	)
	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	var accepted conversation.Accepted
	onAccepted := func(a conversation.Accepted) {
		accepted = a
		f, ok := c.Writer.(http.Flusher)
		if !ok {
			return
		}
		flusher = f
		streaming = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		_ = sendEvent("ack", gin.H{
			"chat_id": a.ChatID,
			"title":   a.Title,
			"message": a.User,
		})
	}
	onProgress := func(acc string) {
		if streaming {
			_ = sendEvent("stream", gin.H{"content": acc})
		}
	}

	reply, err := h.chats.SendMessage(c.Request.Context(), req.Content,
		conversation.OnAccepted(onAccepted),
		conversation.OnProgress(onProgress),
	)
	if !streaming {
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": accepted.ChatID, "ai_message": reply})
		return
	}
	if err != nil {
		payload := gin.H{"message": err.Error()}
		if reply.ID != "" {
			payload["ai_message"] = reply
		}
		_ = sendEvent("error", payload)
		return
	}
	title := accepted.Title
	if chat, err := h.chats.Chat(accepted.ChatID); err == nil {
		title = chat.Title
	}
	_ = sendEvent("done", gin.H{
		"chat_id":      accepted.ChatID,
		"title":        title,
		"user_message": accepted.User,
		"ai_message":   reply,
	})
}

func (h *Handler) notifications(c *gin.Context) {
	var items []notify.Notification
	if h.feed != nil {
		items = h.feed.Recent()
	}
	if items == nil {
		items = make([]notify.Notification, 0)
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (h *Handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"is_loading":      h.chats.IsLoading(),
		"current_chat_id": nullableID(h.chats.ActiveChatID()),
	})
}
