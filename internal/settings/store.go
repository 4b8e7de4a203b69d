// Package settings owns the single settings record and the API credential.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"geminichat/internal/models"
	"geminichat/internal/storage"
)

// Setting keys accepted by Update. They match the JSON field names.
const (
	KeyAPIKey             = "apiKey"
	KeyModel              = "model"
	KeyTemperature        = "temperature"
	KeyMaxTokens          = "maxTokens"
	KeyTopK               = "topK"
	KeyTopP               = "topP"
	KeyMessageLayout      = "messageLayout"
	KeyTextSize           = "textSize"
	KeyStatelessMode      = "statelessMode"
	KeyCustomInstructions = "customInstructions"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidSetting = errors.New("invalid setting value")
)

// Store is the only accessor of the settings record. Every mutation persists
// the whole record before it becomes visible.
type Store struct {
	mu      sync.RWMutex
	kv      storage.KV
	cipher  *Cipher
	models  map[models.Model]bool
	current models.Settings
}

type Option func(*Store)

// WithCipher encrypts the API key at rest.
func WithCipher(c *Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

// WithModels registers model ids beyond the built-in list.
func WithModels(ids ...string) Option {
	return func(s *Store) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.models[models.Model(id)] = true
			}
		}
	}
}

// New hydrates the store from kv. A missing record yields the defaults.
func New(ctx context.Context, kv storage.KV, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	s := &Store{
		kv:      kv,
		models:  make(map[models.Model]bool),
		current: models.DefaultSettings(),
	}
	for _, m := range models.KnownModels {
		s.models[m] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, storage.KeySettings)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	loaded := models.DefaultSettings()
	if err := json.Unmarshal(raw, &loaded); err != nil {
		log.Printf("settings record unreadable, using defaults: %v", err)
		return nil
	}
	loaded.Version = models.SettingsVersion

	if loaded.APIKey != nil && isEncrypted(*loaded.APIKey) {
		switch {
		case s.cipher == nil:
			log.Printf("stored api key is encrypted but %s is not set", APIKeyKeyEnv)
			loaded.APIKey = nil
		default:
			plain, err := s.cipher.Decrypt(*loaded.APIKey)
			if err != nil {
				log.Printf("decrypt stored api key: %v", err)
				loaded.APIKey = nil
			} else {
				loaded.APIKey = &plain
			}
		}
	}
	s.current = loaded
	return nil
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// APIKey returns the configured credential, if any.
func (s *Store) APIKey() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.HasAPIKey() {
		return "", false
	}
	return *s.current.APIKey, true
}

// Models lists the accepted model ids, built-ins first.
func (s *Store) Models() []models.Model {
	out := append([]models.Model(nil), models.KnownModels...)
	builtin := make(map[models.Model]bool, len(out))
	for _, m := range out {
		builtin[m] = true
	}
	var extra []models.Model
	s.mu.RLock()
	for m := range s.models {
		if !builtin[m] {
			extra = append(extra, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Update replaces one field and persists the full record. A rejected value
// leaves the record untouched.
func (s *Store) Update(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	if err := s.apply(&next, key, value); err != nil {
		return err
	}
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// Reset restores the defaults and persists them.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.DefaultSettings()
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.current = next
	return nil
}

func (s *Store) persist(ctx context.Context, next models.Settings) error {
	record := next.Clone()
	record.Version = models.SettingsVersion
	if record.APIKey != nil && s.cipher != nil {
		sealed, err := s.cipher.Encrypt(*record.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		record.APIKey = &sealed
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Set(ctx, storage.KeySettings, data); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

func (s *Store) apply(next *models.Settings, key string, value any) error {
	switch key {
	case KeyAPIKey:
		v, err := optionalString(key, value)
		if err != nil {
			return err
		}
		if v != nil {
			trimmed := strings.TrimSpace(*v)
			v = &trimmed
			if trimmed == "" {
				v = nil
			}
		}
		next.APIKey = v
	case KeyModel:
		v, ok := value.(string)
		if !ok {
			return invalid(key, "must be a string")
		}
		if !s.models[models.Model(v)] {
			return invalid(key, fmt.Sprintf("unknown model %q", v))
		}
		next.Model = models.Model(v)
	case KeyTemperature:
		v, err := unitFloat(key, value)
		if err != nil {
			return err
		}
		next.Temperature = v
	case KeyTopP:
		v, err := unitFloat(key, value)
		if err != nil {
			return err
		}
		next.TopP = v
	case KeyMaxTokens:
		v, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		next.MaxTokens = v
	case KeyTopK:
		v, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		next.TopK = v
	case KeyMessageLayout:
		v, ok := value.(string)
		if !ok {
			return invalid(key, "must be a string")
		}
		switch models.MessageLayout(v) {
		case models.LayoutDefault, models.LayoutCompact:
			next.MessageLayout = models.MessageLayout(v)
		default:
			return invalid(key, fmt.Sprintf("unknown layout %q", v))
		}
	case KeyTextSize:
		v, ok := value.(string)
		if !ok {
			return invalid(key, "must be a string")
		}
		switch models.TextSize(v) {
		case models.TextSmall, models.TextMedium, models.TextLarge:
			next.TextSize = models.TextSize(v)
		default:
			return invalid(key, fmt.Sprintf("unknown text size %q", v))
		}
	case KeyStatelessMode:
		v, ok := value.(bool)
		if !ok {
			return invalid(key, "must be a boolean")
		}
		next.StatelessMode = v
	case KeyCustomInstructions:
		v, err := optionalString(key, value)
		if err != nil {
			return err
		}
		if v != nil && strings.TrimSpace(*v) == "" {
			v = nil
		}
		next.CustomInstructions = v
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	return nil
}

func invalid(key, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidSetting, key, reason)
}

func optionalString(key string, value any) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case *string:
		if v == nil {
			return nil, nil
		}
		c := *v
		return &c, nil
	default:
		return nil, invalid(key, "must be a string or null")
	}
}

func unitFloat(key string, value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, invalid(key, "must be a number")
		}
		f = parsed
	default:
		return 0, invalid(key, "must be a number")
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, invalid(key, "must be between 0 and 1")
	}
	return f, nil
}

func positiveInt(key string, value any) (int, error) {
	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		if v > math.MaxInt32 {
			return 0, invalid(key, "is too large")
		}
		n = int(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, invalid(key, "must be an integer")
		}
		if v > math.MaxInt32 {
			return 0, invalid(key, "is too large")
		}
		n = int(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, invalid(key, "must be an integer")
		}
		if parsed > math.MaxInt32 {
			return 0, invalid(key, "is too large")
		}
		n = int(parsed)
	default:
		return 0, invalid(key, "must be an integer")
	}
	if n <= 0 {
		return 0, invalid(key, "must be positive")
	}
	return n, nil
}
