package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// APIKeyKeyEnv names the environment variable holding the 32-byte key used to
// encrypt the stored API key.
const APIKeyKeyEnv = "GEMINICHAT_APIKEY_KEY"

const encryptedPrefix = "enc:v1:"

var errInvalidCiphertext = errors.New("invalid api key ciphertext")

// Cipher seals the API key before it reaches the KV store.
type Cipher struct {
	aead cipher.AEAD
}

// CipherFromEnv returns nil without error when the key variable is unset.
func CipherFromEnv() (*Cipher, error) {
	raw := strings.TrimSpace(os.Getenv(APIKeyKeyEnv))
	if raw == "" {
		return nil, nil
	}
	c, err := NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", APIKeyKeyEnv, err)
	}
	return c, nil
}

// NewCipher accepts a raw 32 character key or its base64 encoding.
func NewCipher(raw string) (*Cipher, error) {
	key, err := decodeKey(raw)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	buf := append(nonce, sealed...)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

func (c *Cipher) Decrypt(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(input, encryptedPrefix))
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}

func isEncrypted(v string) bool {
	return strings.HasPrefix(v, encryptedPrefix)
}
