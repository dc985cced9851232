package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService   = "clawdesk"
	keyringConfigKey = "config-master-key"
	masterKeySize    = 32
)

// getMasterKey returns the config encryption key, looking in the OS keyring first
// and then in a 0600 file for headless hosts. A new key is generated on first use.
func getMasterKey() ([]byte, error) {
	if encoded, err := keyring.Get(keyringService, keyringConfigKey); err == nil {
		return decodeMasterKey(encoded)
	}

	if key, err := loadMasterKeyFromFallbackFile(); err == nil {
		return key, nil
	}

	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := keyring.Set(keyringService, keyringConfigKey, base64.StdEncoding.EncodeToString(key)); err != nil {
		return saveMasterKeyToFallbackFile(key)
	}
	return key, nil
}

func decodeMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("invalid config master key length %d", len(key))
	}
	return key, nil
}

func fallbackMasterKeyPath() string {
	if p := firstNonEmptyEnv("CLAWDESK_MASTER_KEY_FILE"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".clawdesk", ".config-master-key")
}

func loadMasterKeyFromFallbackFile() ([]byte, error) {
	data, err := os.ReadFile(fallbackMasterKeyPath())
	if err != nil {
		return nil, err
	}
	return decodeMasterKey(string(data))
}

func saveMasterKeyToFallbackFile(key []byte) ([]byte, error) {
	path := fallbackMasterKeyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encryptConfig(key, plaintext []byte) ([]byte, []byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func decryptConfig(key, ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// sealedPrefix marks values written by SecretBox.Seal.
const sealedPrefix = "gcm:"

// SecretBox seals short secrets, such as stored authorization codes, with AES-GCM.
type SecretBox struct {
	gcm cipher.AEAD
}

func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("invalid secret key length %d", len(key))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &SecretBox{gcm: gcm}, nil
}

// MasterSecretBox returns a SecretBox keyed with the config master key.
func MasterSecretBox() (*SecretBox, error) {
	key, err := getMasterKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	return NewSecretBox(key)
}

// Seal returns "" for "" and a prefixed base64 nonce+ciphertext otherwise.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix were stored before sealing was
// enabled and are returned unchanged.
func (b *SecretBox) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(sealedPrefix):])
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	n := b.gcm.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("sealed value too short")
	}
	plain, err := b.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}
