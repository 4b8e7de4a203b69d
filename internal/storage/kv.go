package storage

import (
	"context"
	"errors"
	"sync"
)

// Keys of the three persisted aggregates.
const (
	KeySettings      = "settings"
	KeyChats         = "chats"
	KeyCurrentChatID = "current-chat-id"
)

// KeyChatsBackup holds the last chats record that could not be decoded.
const KeyChatsBackup = "chats.bak"

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// KV is the local key-value store behind the settings and chat aggregates.
// Values are opaque blobs rewritten wholesale on every Set.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type memoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns a map-backed KV. Nothing survives the process.
func NewMemory() KV {
	return &memoryKV{data: make(map[string][]byte)}
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.mu.Lock()
	m.data[key] = buf
	m.mu.Unlock()
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryKV) Close() error { return nil }
