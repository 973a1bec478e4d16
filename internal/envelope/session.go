package envelope

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nupi-ai/nexus/internal/constants"
)

// IssuedKey is the registry's key-issuance response.
type IssuedKey struct {
	ID        string `json:"id"`
	Key       string `json:"key"`       // base64 raw key bytes
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

// KeySource fetches a fresh key from the registry.
type KeySource interface {
	FetchKey(ctx context.Context) (*IssuedKey, error)
}

type sessionKey struct {
	id   string
	aead cipher.AEAD
	// expiresAt is when this session stops encrypting with the key.
	expiresAt time.Time
	// retiresAt is the server-declared end of life; the key keeps decrypting
	// responses until then, even after a rotation.
	retiresAt time.Time
}

// Session holds the rotating registry key. It is safe for concurrent use; at
// most one key fetch is in flight at any time and concurrent callers share it.
type Session struct {
	source       KeySource
	now          func() time.Time
	margin       time.Duration
	fetchTimeout time.Duration
	onRotate     func(keyID string)

	mu       sync.RWMutex
	current  *sessionKey
	previous *sessionKey

	fetches singleflight.Group
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithSafetyMargin sets how long before the server-declared expiry the key
// stops being used for encryption.
func WithSafetyMargin(d time.Duration) Option {
	return func(s *Session) { s.margin = d }
}

// WithFetchTimeout bounds a single key fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Session) { s.fetchTimeout = d }
}

// WithRotationHook registers a callback invoked after each key install.
func WithRotationHook(fn func(keyID string)) Option {
	return func(s *Session) { s.onRotate = fn }
}

// NewSession creates a session that lazily fetches keys from source.
func NewSession(source KeySource, opts ...Option) *Session {
	s := &Session{
		source:       source,
		now:          time.Now,
		margin:       constants.KeyExpirySafetyMargin,
		fetchTimeout: constants.KeyFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureReady guarantees a valid key is cached on success.
func (s *Session) EnsureReady(ctx context.Context) error {
	_, err := s.activeKey(ctx)
	return err
}

// KeyID returns the id of the cached key, or "" when none is valid.
func (s *Session) KeyID() string {
	if k, ok := s.validKey(); ok {
		return k.id
	}
	return ""
}

// Encrypt seals v under the current key.
func (s *Session) Encrypt(ctx context.Context, v any) (*Envelope, error) {
	k, err := s.activeKey(ctx)
	if err != nil {
		return nil, err
	}
	return Seal(k.aead, k.id, v)
}

// Decrypt opens env into out using the key named by env.KeyID. The key
// replaced by the latest rotation is still accepted until it retires.
func (s *Session) Decrypt(ctx context.Context, env *Envelope, out any) error {
	if _, err := s.activeKey(ctx); err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("%w: nil envelope", ErrDecryptionFailed)
	}

	k := s.lookup(env.KeyID)
	if k == nil {
		return fmt.Errorf("%w: unknown key id %q", ErrDecryptionFailed, env.KeyID)
	}
	return Open(k.aead, env, out)
}

func (s *Session) lookup(id string) *sessionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current != nil && s.current.id == id {
		return s.current
	}
	if s.previous != nil && s.previous.id == id && s.now().Before(s.previous.retiresAt) {
		return s.previous
	}
	return nil
}

func (s *Session) validKey() (*sessionKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || !s.now().Before(s.current.expiresAt) {
		return nil, false
	}
	return s.current, true
}

// activeKey returns a valid key, joining or starting the single in-flight
// fetch when the cached key is missing or expired.
func (s *Session) activeKey(ctx context.Context) (*sessionKey, error) {
	if k, ok := s.validKey(); ok {
		return k, nil
	}

	// The fetch is detached from the caller's cancellation so that one
	// caller giving up does not fail every other waiter.
	ch := s.fetches.DoChan("key", func() (any, error) {
		if k, ok := s.validKey(); ok {
			return k, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sessionKey), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, ctx.Err())
	}
}

func (s *Session) fetch(ctx context.Context) (*sessionKey, error) {
	issued, err := s.source.FetchKey(ctx)
	if err != nil {
		log.Printf("[Envelope] Failed to fetch key: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	k, err := s.buildKey(issued)
	if err != nil {
		log.Printf("[Envelope] Rejected malformed key: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	s.mu.Lock()
	if s.current != nil && s.current.id != k.id && s.now().Before(s.current.retiresAt) {
		s.previous = s.current
	}
	s.current = k
	s.mu.Unlock()

	log.Printf("[Envelope] Key rotated/loaded %s", k.id)
	if s.onRotate != nil {
		s.onRotate(k.id)
	}
	return k, nil
}

func (s *Session) buildKey(issued *IssuedKey) (*sessionKey, error) {
	if issued == nil {
		return nil, fmt.Errorf("empty key response")
	}
	id := strings.TrimSpace(issued.ID)
	if id == "" {
		return nil, fmt.Errorf("key id missing")
	}
	if issued.ExpiresIn <= 0 {
		return nil, fmt.Errorf("non-positive key lifetime %d", issued.ExpiresIn)
	}

	raw, err := base64.StdEncoding.DecodeString(issued.Key)
	if err != nil {
		return nil, fmt.Errorf("decode key material: %w", err)
	}
	aead, err := NewAEAD(raw)
	for i := range raw {
		raw[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("import key material: %w", err)
	}

	lifetime := time.Duration(issued.ExpiresIn) * time.Second
	margin := s.margin
	if margin >= lifetime {
		margin = lifetime / 2
	}

	now := s.now()
	return &sessionKey{
		id:        id,
		aead:      aead,
		expiresAt: now.Add(lifetime - margin),
		retiresAt: now.Add(lifetime),
	}, nil
}
