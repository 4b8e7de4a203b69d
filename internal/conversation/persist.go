package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"geminichat/internal/models"
	"geminichat/internal/storage"
)

const chatsVersion = 1

type chatsRecord struct {
	Version int           `json:"version"`
	Chats   []models.Chat `json:"chats"`
}

// legacyChat is the bare array layout with epoch millisecond timestamps.
type legacyChat struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Messages []struct {
		ID        string      `json:"id"`
		Role      models.Role `json:"role"`
		Content   string      `json:"content"`
		Timestamp int64       `json:"timestamp"`
	} `json:"messages"`
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
	Starred   bool  `json:"starred"`
}

func decodeChats(raw []byte) ([]models.Chat, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var legacy []legacyChat
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode legacy chats: %w", err)
		}
		out := make([]models.Chat, 0, len(legacy))
		for _, lc := range legacy {
			chat := models.Chat{
				ID:        lc.ID,
				Title:     lc.Title,
				Messages:  make([]models.Message, 0, len(lc.Messages)),
				CreatedAt: time.UnixMilli(lc.CreatedAt),
				UpdatedAt: time.UnixMilli(lc.UpdatedAt),
				Starred:   lc.Starred,
			}
			for _, lm := range lc.Messages {
				chat.Messages = append(chat.Messages, models.Message{
					ID:        lm.ID,
					Role:      lm.Role,
					Content:   lm.Content,
					Timestamp: time.UnixMilli(lm.Timestamp),
				})
			}
			out = append(out, chat)
		}
		return out, nil
	}
	var record chatsRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	if record.Version > chatsVersion {
		return nil, fmt.Errorf("chats record version %d is newer than supported %d", record.Version, chatsVersion)
	}
	return record.Chats, nil
}

// sanitize drops chats without an id or duplicating an earlier one.
func sanitize(chats []models.Chat) []models.Chat {
	seen := make(map[string]bool, len(chats))
	out := chats[:0]
	for _, c := range chats {
		if c.ID == "" || seen[c.ID] {
			log.Printf("dropping stored chat with missing or duplicate id %q", c.ID)
			continue
		}
		seen[c.ID] = true
		if c.Messages == nil {
			c.Messages = []models.Message{}
		}
		if c.Title == "" {
			c.Title = models.DefaultChatTitle
		}
		out = append(out, c)
	}
	return out
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, storage.KeyChats)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load chats: %w", err)
	default:
		chats, err := decodeChats(raw)
		if err != nil {
			if err := s.kv.Set(ctx, storage.KeyChatsBackup, raw); err != nil {
				return fmt.Errorf("back up unreadable chats: %w", err)
			}
			log.Printf("chats record unreadable, kept under %q: %v", storage.KeyChatsBackup, err)
			s.unreadable = true
		}
		s.chats = sanitize(chats)
	}

	raw, err = s.kv.Get(ctx, storage.KeyCurrentChatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load current chat id: %w", err)
	default:
		var id *string
		if err := json.Unmarshal(raw, &id); err != nil {
			log.Printf("current chat id unreadable, ignoring: %v", err)
		} else if id != nil {
			s.currentID = *id
		}
	}
	return nil
}

// saveLocked rewrites the chats record and the current id. Failures are
// logged; the in-memory state stays authoritative.
func (s *Store) saveLocked(ctx context.Context) {
	s.saveChatsLocked(ctx)
	s.saveCurrentLocked(ctx)
}

func (s *Store) saveChatsLocked(ctx context.Context) {
	data, err := json.Marshal(chatsRecord{Version: chatsVersion, Chats: s.chats})
	if err != nil {
		log.Printf("encode chats: %v", err)
		return
	}
	if err := s.kv.Set(ctx, storage.KeyChats, data); err != nil {
		log.Printf("persist chats: %v", err)
	}
}

func (s *Store) saveCurrentLocked(ctx context.Context) {
	var id *string
	if s.currentID != "" {
		id = &s.currentID
	}
	data, _ := json.Marshal(id)
	if err := s.kv.Set(ctx, storage.KeyCurrentChatID, data); err != nil {
		log.Printf("persist current chat id: %v", err)
	}
}
