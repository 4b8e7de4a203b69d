// Package conversation owns the chat collection and relays prompts to the
// generation backend.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"geminichat/internal/generation"
	"geminichat/internal/models"
	"geminichat/internal/notify"
	"geminichat/internal/storage"
)

// DefaultRequestTimeout bounds a single generation call.
const DefaultRequestTimeout = 120 * time.Second

// SettingsSource is the part of the settings store a send needs.
type SettingsSource interface {
	Get() models.Settings
	APIKey() (string, bool)
}

// Store holds every chat and the active chat pointer. All state changes
// happen under mu; only the generation call runs outside it.
type Store struct {
	mu sync.Mutex

	kv        storage.KV
	settings  SettingsSource
	generator generation.Generator
	notifier  notify.Notifier
	now       func() time.Time
	newID     func() string
	window    int
	timeout   time.Duration
	streaming bool

	chats     []models.Chat
	currentID string
	query     string
	inflight  map[string]context.CancelFunc

	// unreadable is set when hydration found a chats record it could not decode.
	unreadable bool
}

type Option func(*Store)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func WithContextWindow(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.window = n
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStreaming makes sends use partial replies when the generator can stream.
func WithStreaming(enabled bool) Option {
	return func(s *Store) { s.streaming = enabled }
}

// New hydrates the store from kv. An empty collection gets a fresh chat and a
// missing or dangling active id is pointed at the most recently updated chat.
func New(ctx context.Context, kv storage.KV, settings SettingsSource, generator generation.Generator, opts ...Option) (*Store, error) {
	if kv == nil || settings == nil || generator == nil {
		return nil, fmt.Errorf("conversation store requires kv, settings and generator")
	}
	s := &Store{
		kv:        kv,
		settings:  settings,
		generator: generator,
		notifier:  notify.NewFeed(notify.DefaultLimit),
		now:       time.Now,
		newID:     uuid.NewString,
		window:    DefaultContextWindow,
		timeout:   DefaultRequestTimeout,
		inflight:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chats) == 0 {
		if s.unreadable {
			// keep the stored record until the first real mutation
			s.newChatLocked()
			return s, nil
		}
		s.createLocked(ctx)
		return s, nil
	}
	if s.indexLocked(s.currentID) < 0 {
		s.currentID = s.mostRecentLocked()
		s.saveCurrentLocked(ctx)
	}
	return s, nil
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.chats {
		if s.chats[i].ID == id {
			return i
		}
	}
	return -1
}

// mostRecentLocked returns the id of the latest updated chat; ties go to the
// earlier position in the collection.
func (s *Store) mostRecentLocked() string {
	best := -1
	for i := range s.chats {
		if best < 0 || s.chats[i].UpdatedAt.After(s.chats[best].UpdatedAt) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return s.chats[best].ID
}

// touch advances updatedAt without ever moving it backwards.
func (s *Store) touch(c *models.Chat) {
	t := s.now()
	if t.Before(c.UpdatedAt) {
		t = c.UpdatedAt
	}
	c.UpdatedAt = t
}

func (s *Store) createLocked(ctx context.Context) models.Chat {
	chat := s.newChatLocked()
	s.saveLocked(ctx)
	return chat
}

func (s *Store) newChatLocked() models.Chat {
	now := s.now()
	chat := models.Chat{
		ID:        s.newID(),
		Title:     models.DefaultChatTitle,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats = append([]models.Chat{chat}, s.chats...)
	s.currentID = chat.ID
	return chat.Clone()
}

// CreateChat puts a new empty chat at the front and makes it active.
func (s *Store) CreateChat(ctx context.Context) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx), nil
}

// SetActiveChat moves the active pointer. An unknown id leaves it unchanged.
func (s *Store) SetActiveChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	s.currentID = id
	s.saveCurrentLocked(ctx)
	return nil
}

// DeleteChat removes a chat and cancels a reply still being generated for it.
// When it was active, the most recently updated remaining chat takes over.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if cancel, ok := s.inflight[id]; ok {
		cancel()
	}
	s.chats = append(s.chats[:idx], s.chats[idx+1:]...)
	if s.currentID == id {
		s.currentID = s.mostRecentLocked()
	}
	s.saveLocked(ctx)
	return nil
}

func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	s.chats[idx].Title = title
	s.touch(&s.chats[idx])
	s.saveChatsLocked(ctx)
	return nil
}

func (s *Store) StarChat(ctx context.Context, id string, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	s.chats[idx].Starred = starred
	s.touch(&s.chats[idx])
	s.saveChatsLocked(ctx)
	return nil
}

func (s *Store) appendLocked(idx int, role models.Role, content string) models.Message {
	chat := &s.chats[idx]
	if title, ok := DeriveTitle(len(chat.Messages), content); ok && title != "" {
		chat.Title = title
	}
	msg := models.Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	chat.Messages = append(chat.Messages, msg)
	s.touch(chat)
	return msg
}

// AddMessage appends a message to the chat. The first message names the chat.
func (s *Store) AddMessage(ctx context.Context, chatID string, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(chatID)
	if idx < 0 {
		return models.Message{}, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	msg := s.appendLocked(idx, role, content)
	s.saveChatsLocked(ctx)
	return msg, nil
}

func (s *Store) updateLocked(chatID, messageID, content string) error {
	idx := s.indexLocked(chatID)
	if idx < 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	chat := &s.chats[idx]
	mi := chat.FindMessage(messageID)
	if mi < 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	chat.Messages[mi].Content = content
	s.touch(chat)
	return nil
}

// UpdateMessage replaces the content of a message in the given chat, whether
// or not that chat is active.
func (s *Store) UpdateMessage(ctx context.Context, chatID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(chatID, messageID, content); err != nil {
		return err
	}
	s.saveChatsLocked(ctx)
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(chatID)
	if idx < 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	chat := &s.chats[idx]
	mi := chat.FindMessage(messageID)
	if mi < 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	chat.Messages = append(chat.Messages[:mi], chat.Messages[mi+1:]...)
	s.touch(chat)
	s.saveChatsLocked(ctx)
	return nil
}

func cloneAll(chats []models.Chat) []models.Chat {
	out := make([]models.Chat, len(chats))
	for i := range chats {
		out[i] = chats[i].Clone()
	}
	return out
}

// Chats returns the full collection in stored order.
func (s *Store) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.chats)
}

func (s *Store) Chat(id string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Chat{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return s.chats[idx].Clone(), nil
}

func (s *Store) CurrentChat() (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(s.currentID)
	if idx < 0 {
		return models.Chat{}, false
	}
	return s.chats[idx].Clone(), true
}

// ActiveChatID returns "" when no chat is active.
func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// IsLoading reports whether any reply is being generated.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) > 0
}

func (s *Store) IsSending(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[chatID]
	return ok
}

func matches(c models.Chat, q string) bool {
	if strings.Contains(strings.ToLower(c.Title), q) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), q) {
			return true
		}
	}
	return false
}

func (s *Store) filterLocked() []models.Chat {
	if strings.TrimSpace(s.query) == "" {
		return cloneAll(s.chats)
	}
	q := strings.ToLower(s.query)
	out := make([]models.Chat, 0)
	for _, c := range s.chats {
		if matches(c, q) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// SearchChats remembers query and returns the chats whose title or any
// message contains it, ignoring case. A blank query matches everything.
func (s *Store) SearchChats(query string) []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	return s.filterLocked()
}

// FilteredChats re-runs the last search against the current collection.
func (s *Store) FilteredChats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLocked()
}

// ChatList splits the collection the way the sidebar shows it.
type ChatList struct {
	Starred []models.Chat `json:"starred"`
	Recent  []models.Chat `json:"recent"`
}

func (s *Store) ChatList() ChatList {
	s.mu.Lock()
	all := cloneAll(s.chats)
	s.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	list := ChatList{Starred: []models.Chat{}, Recent: []models.Chat{}}
	for _, c := range all {
		if c.Starred {
			list.Starred = append(list.Starred, c)
		} else {
			list.Recent = append(list.Recent, c)
		}
	}
	return list
}
