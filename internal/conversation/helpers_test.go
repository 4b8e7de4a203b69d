package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geminichat/internal/generation"
	"geminichat/internal/models"
	"geminichat/internal/notify"
	"geminichat/internal/storage"
)

type fakeSettings struct {
	st models.Settings
}

func newFakeSettings(apiKey string) *fakeSettings {
	st := models.DefaultSettings()
	if apiKey != "" {
		st.APIKey = &apiKey
	}
	return &fakeSettings{st: st}
}

func (f *fakeSettings) Get() models.Settings { return f.st.Clone() }

func (f *fakeSettings) APIKey() (string, bool) {
	if !f.st.HasAPIKey() {
		return "", false
	}
	return *f.st.APIKey, true
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []generation.Request
	keys  []string
	// block, when set, holds Generate until it is closed or ctx ends.
	block chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, apiKey string, req generation.Request) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.keys = append(g.keys, apiKey)
	block := g.block
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type streamingGenerator struct {
	fakeGenerator
	chunks []string
}

func (g *streamingGenerator) Stream(ctx context.Context, apiKey string, req generation.Request, onChunk func(string) error) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	acc := ""
	for _, c := range g.chunks {
		acc += c
		if err := onChunk(acc); err != nil {
			return "", err
		}
	}
	return acc, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *recordingNotifier) Notify(n notify.Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.items...)
}

type testEnv struct {
	store    *Store
	kv       storage.KV
	settings *fakeSettings
	gen      *fakeGenerator
	notes    *recordingNotifier
	clock    *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// now advances one second per call so every mutation is ordered.
func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newEnv(t *testing.T, apiKey string, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		kv:       storage.NewMemory(),
		settings: newFakeSettings(apiKey),
		gen:      &fakeGenerator{reply: "hello back"},
		notes:    &recordingNotifier{},
		clock:    &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	env.store = env.open(t, opts...)
	return env
}

func (e *testEnv) open(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithClock(e.clock.now),
		WithIDGenerator(sequentialIDs()),
		WithNotifier(e.notes),
	}
	s, err := New(context.Background(), e.kv, e.settings, e.gen, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

// activeValid checks the active pointer is empty or names a stored chat.
func activeValid(s *Store) bool {
	id := s.ActiveChatID()
	if id == "" {
		return true
	}
	_, err := s.Chat(id)
	return err == nil
}
