// Package envelope implements the authenticated application-layer cipher used
// for every sensitive registry call. Payloads are JSON-encoded, sealed with
// AES-GCM under a short-lived key issued by the registry, and carried as an
// Envelope of base64 fields.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
)

const (
	// NonceSize is the AES-GCM nonce length (96 bits).
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length (128 bits).
	TagSize = 16
)

var (
	// ErrKeyUnavailable is returned when no valid key could be obtained.
	ErrKeyUnavailable = errors.New("envelope: encryption key unavailable")
	// ErrDecryptionFailed is returned when an envelope does not authenticate,
	// is malformed, or names a key this session does not hold.
	ErrDecryptionFailed = errors.New("envelope: decryption failed")
)

// Envelope is the wire form of a sealed payload.
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	IV        string `json:"iv"`
	Data      string `json:"data"`
	Tag       string `json:"tag"`
	KeyID     string `json:"keyId"`
}

// NewAEAD builds an AES-GCM cipher with the envelope nonce and tag sizes.
// Valid key lengths are 16, 24 and 32 bytes.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, TagSize)
}

// Seal encodes v as JSON and encrypts it under aead with a fresh random nonce.
func Seal(aead cipher.AEAD, keyID string, v any) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize

	return &Envelope{
		Encrypted: true,
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Data:      base64.StdEncoding.EncodeToString(sealed[:split]),
		Tag:       base64.StdEncoding.EncodeToString(sealed[split:]),
		KeyID:     keyID,
	}, nil
}

// Open authenticates and decrypts env into out. out is left untouched unless
// the tag verifies and the plaintext is valid JSON.
func Open(aead cipher.AEAD, env *Envelope, out any) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", ErrDecryptionFailed)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(nonce) != NonceSize {
		return fmt.Errorf("%w: invalid iv", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != TagSize {
		return fmt.Errorf("%w: invalid tag", ErrDecryptionFailed)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	if !json.Valid(plaintext) {
		return fmt.Errorf("%w: payload is not JSON", ErrDecryptionFailed)
	}
	return decodeInto(plaintext, out)
}

// decodeInto unmarshals into a fresh value and only then assigns it to out,
// so a payload that fails to decode never leaves out half-populated.
func decodeInto(data []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("envelope: decode target must be a non-nil pointer, got %T", out)
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(data, fresh.Interface()); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrDecryptionFailed, err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}
