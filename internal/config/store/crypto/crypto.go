package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	KeySize     = 32 // AES-256
	KeyFileName = ".secrets.key"
	// SealedPrefix marks sealed values in the settings table.
	SealedPrefix = "enc:v1:"
)

// ErrNotSealed is returned by Open for values lacking SealedPrefix.
var ErrNotSealed = errors.New("config: value is not sealed")

// KeyPath returns the key file location for a settings database.
func KeyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), KeyFileName)
}

// LoadOrCreateKey returns the key at keyPath, generating one on first use.
func LoadOrCreateKey(keyPath string) ([]byte, error) {
	key, err := LoadKey(keyPath)
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	return CreateKey(keyPath)
}

// LoadKey reads an existing key from keyPath.
// Returns nil, nil if the file doesn't exist.
func LoadKey(keyPath string) ([]byte, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read encryption key: %w", err)
	}
	defer f.Close()

	// Windows reports synthetic mode bits, so the check is meaningless there.
	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil && info.Mode().Perm()&0o077 != 0 {
			log.Printf("[Config] WARNING: encryption key %s has overly permissive mode 0%o (expected 0600)", keyPath, info.Mode().Perm())
		}
	}

	data, err := io.ReadAll(io.LimitReader(f, KeySize+1))
	if err != nil {
		return nil, fmt.Errorf("config: read encryption key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("config: encryption key at %s has invalid size %d (expected %d)", keyPath, len(data), KeySize)
	}
	return data, nil
}

// CreateKey generates a new key and writes it to keyPath. The key is written
// to a temp file and hard-linked into place, so a concurrent creator either
// wins or reads the winner's key; keyPath never holds a partial key.
func CreateKey(keyPath string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("config: generate encryption key: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(keyPath), KeyFileName+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("config: create encryption key temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, writeErr := tmp.Write(key)
	chmodErr := tmp.Chmod(0o600)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, chmodErr, closeErr); err != nil {
		return nil, fmt.Errorf("config: write encryption key temp: %w", err)
	}

	if err := os.Link(tmpPath, keyPath); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("config: link encryption key: %w", err)
		}
		winner, loadErr := LoadKey(keyPath)
		if loadErr != nil {
			return nil, loadErr
		}
		if winner == nil {
			return nil, fmt.Errorf("config: encryption key %s disappeared after concurrent creation", keyPath)
		}
		return winner, nil
	}
	return key, nil
}

// Sealer encrypts individual setting values with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a KeySize-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("config: encryption key has invalid size %d (expected %d)", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns SealedPrefix followed by base64(nonce||ciphertext||tag).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("config: sealed value too short")
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("config: open sealed value: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether stored carries SealedPrefix.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, SealedPrefix)
}
