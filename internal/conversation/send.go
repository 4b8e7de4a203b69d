package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"geminichat/internal/generation"
	"geminichat/internal/models"
	"geminichat/internal/notify"
)

// Accepted describes a send once both messages are in place.
type Accepted struct {
	ChatID      string
	Title       string
	User        models.Message
	Placeholder models.Message
}

type sendHooks struct {
	onAccepted func(Accepted)
	onProgress func(accumulated string)
}

type SendOption func(*sendHooks)

// OnAccepted runs after the user message and placeholder were appended, before
// the generation call starts.
func OnAccepted(fn func(Accepted)) SendOption {
	return func(h *sendHooks) { h.onAccepted = fn }
}

// OnProgress runs after each partial reply was written to the placeholder.
func OnProgress(fn func(accumulated string)) SendOption {
	return func(h *sendHooks) { h.onProgress = fn }
}

// SendMessage appends text to the active chat (creating one if needed), asks
// the generator for a reply and fills the assistant placeholder with it. On
// failure the placeholder carries ApologyText and the error is returned.
func (s *Store) SendMessage(ctx context.Context, text string, opts ...SendOption) (models.Message, error) {
	var hooks sendHooks
	for _, opt := range opts {
		opt(&hooks)
	}

	apiKey, ok := s.settings.APIKey()
	if !ok {
		s.notifier.Notify(notify.Notification{
			Title:       missingKeyTitle,
			Description: missingKeyDescription,
			Variant:     notify.VariantDestructive,
		})
		return models.Message{}, ErrMissingCredential
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyPrompt
	}
	st := s.settings.Get()

	s.mu.Lock()
	idx := s.indexLocked(s.currentID)
	if idx < 0 {
		s.createLocked(ctx)
		idx = s.indexLocked(s.currentID)
	}
	chatID := s.chats[idx].ID
	if _, busy := s.inflight[chatID]; busy {
		s.mu.Unlock()
		return models.Message{}, fmt.Errorf("chat %s: %w", chatID, ErrSendInProgress)
	}

	history := append([]models.Message(nil), s.chats[idx].Messages...)
	userMsg := s.appendLocked(idx, models.RoleUser, text)
	placeholder := s.appendLocked(idx, models.RoleAssistant, "")
	title := s.chats[idx].Title
	s.saveChatsLocked(ctx)

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.inflight[chatID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, chatID)
		s.mu.Unlock()
		cancel()
	}()

	if hooks.onAccepted != nil {
		hooks.onAccepted(Accepted{ChatID: chatID, Title: title, User: userMsg, Placeholder: placeholder})
	}

	// persistence outlives the caller's cancellation
	saveCtx := context.WithoutCancel(ctx)
	req := BuildContents(history, st, text, s.window)
	reply, err := s.generate(sendCtx, apiKey, req, func(acc string) error {
		if err := s.UpdateMessage(saveCtx, chatID, placeholder.ID, acc); err != nil {
			return err
		}
		if hooks.onProgress != nil {
			hooks.onProgress(acc)
		}
		return nil
	})
	if err != nil {
		return s.fail(saveCtx, chatID, placeholder, err)
	}

	if err := s.UpdateMessage(saveCtx, chatID, placeholder.ID, reply); err != nil {
		log.Printf("store reply for chat %s: %v", chatID, err)
		return models.Message{}, err
	}
	placeholder.Content = reply
	return placeholder, nil
}

func (s *Store) generate(ctx context.Context, apiKey string, req generation.Request, onChunk func(string) error) (string, error) {
	if s.streaming {
		if sg, ok := s.generator.(generation.StreamGenerator); ok {
			return sg.Stream(ctx, apiKey, req, onChunk)
		}
	}
	return s.generator.Generate(ctx, apiKey, req)
}

func (s *Store) fail(ctx context.Context, chatID string, placeholder models.Message, cause error) (models.Message, error) {
	log.Printf("generate reply for chat %s: %v", chatID, cause)
	if err := s.UpdateMessage(ctx, chatID, placeholder.ID, ApologyText); err != nil {
		// the chat or placeholder was deleted while the request ran
		if errors.Is(err, ErrNotFound) {
			log.Printf("drop late failure for chat %s: %v", chatID, err)
			return models.Message{}, fmt.Errorf("generate reply: %w", cause)
		}
		log.Printf("store apology for chat %s: %v", chatID, err)
	}

	desc := failureDescription
	if remote, ok := generation.AsRemote(cause); ok && remote.Message != "" {
		desc = fmt.Sprintf("%s (%s)", failureDescription, remote.Message)
	}
	s.notifier.Notify(notify.Notification{
		Title:       failureTitle,
		Description: desc,
		Variant:     notify.VariantDestructive,
	})
	placeholder.Content = ApologyText
	return placeholder, fmt.Errorf("generate reply: %w", cause)
}
