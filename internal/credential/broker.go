// Package credential owns the bearer token of this installation: it trades
// one-time codes for tokens, persists them, and clears them on logout or when
// the registry reports them invalid.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	configstore "github.com/nupi-ai/nexus/internal/config/store"
	"github.com/nupi-ai/nexus/internal/notify"
	"github.com/nupi-ai/nexus/internal/observability"
	"github.com/nupi-ai/nexus/internal/registry"
)

var (
	// ErrAuthExchangeFailed is returned when a code could not be exchanged.
	ErrAuthExchangeFailed = errors.New("credential: authorization code exchange failed")
	// ErrNotAuthenticated is returned when an operation needs a token and
	// none is stored.
	ErrNotAuthenticated = errors.New("credential: not authenticated")
)

// User-facing notices.
const (
	NoticeNoCode      = "Authentication failed: No code received."
	NoticeBadCode     = "Authentication failed: Could not verify code."
	NoticeLoggedIn    = "Successfully logged in to Beto Marketplace!"
	NoticeLoggedOut   = "Logged out."
	NoticeSessionGone = "Your session has expired. Please log in again."
)

// Store persists the credential.
type Store interface {
	LoadCredential(ctx context.Context) (configstore.Credential, error)
	SaveAuthToken(ctx context.Context, token string) error
}

// Registry is the part of the registry client the broker needs.
type Registry interface {
	ExchangeCode(ctx context.Context, code string) (string, error)
	Me(ctx context.Context, token string) (*registry.Profile, error)
}

// Options configures a Broker.
type Options struct {
	Store    Store
	Registry Registry
	Notifier notify.Notifier
	// OnAuthChange runs after every successful exchange, logout, or
	// server-side invalidation.
	OnAuthChange func()
	Metrics      *observability.Metrics
}

// Broker manages the shared credential. Token changes are persisted before
// they become visible to readers.
type Broker struct {
	store        Store
	registry     Registry
	notifier     notify.Notifier
	onAuthChange func()
	metrics      *observability.Metrics

	writeMu sync.Mutex // serializes persist-then-publish

	mu   sync.RWMutex
	cred configstore.Credential
}

// NewBroker loads the stored credential and returns a broker for it.
func NewBroker(ctx context.Context, opts Options) (*Broker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("credential: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("credential: registry is required")
	}
	cred, err := opts.Store.LoadCredential(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential: load: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Broker{
		store:        opts.Store,
		registry:     opts.Registry,
		notifier:     notifier,
		onAuthChange: opts.OnAuthChange,
		metrics:      opts.Metrics,
		cred:         cred,
	}, nil
}

// Token returns the stored bearer token, or "".
func (b *Broker) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cred.AuthToken
}

// DeviceID returns the stable installation id.
func (b *Broker) DeviceID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cred.DeviceID
}

// Authenticated reports whether a token is stored.
func (b *Broker) Authenticated() bool {
	return b.Token() != ""
}

// ExchangeCode trades code for a token and stores it. On failure the user
// sees one notice and ErrAuthExchangeFailed is returned. A "logged in" notice
// is shown only when silent is false and the token actually changed.
func (b *Broker) ExchangeCode(ctx context.Context, code string, silent bool) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		b.metrics.AuthExchange(false)
		b.notifier.Notice(NoticeNoCode)
		return "", fmt.Errorf("%w: no code received", ErrAuthExchangeFailed)
	}

	token, err := b.registry.ExchangeCode(ctx, code)
	if err != nil {
		log.Printf("[Credential] Code exchange failed: %v", err)
		b.metrics.AuthExchange(false)
		b.notifier.Notice(NoticeBadCode)
		return "", fmt.Errorf("%w: %v", ErrAuthExchangeFailed, err)
	}

	previous, err := b.setToken(ctx, token)
	if err != nil {
		log.Printf("[Credential] Failed to persist token: %v", err)
		b.metrics.AuthExchange(false)
		b.notifier.Notice(NoticeBadCode)
		return "", fmt.Errorf("%w: %v", ErrAuthExchangeFailed, err)
	}

	b.metrics.AuthExchange(true)
	if !silent && token != previous {
		b.notifier.Notice(NoticeLoggedIn)
	}
	b.authChanged()
	return token, nil
}

// Logout clears the stored token. The in-memory token is cleared even when
// persisting the change fails; the persistence error is returned.
func (b *Broker) Logout(ctx context.Context) error {
	_, err := b.setToken(ctx, "")
	if err != nil {
		log.Printf("[Credential] WARNING: failed to persist logout: %v", err)
		b.mu.Lock()
		b.cred.AuthToken = ""
		b.mu.Unlock()
	}

	b.notifier.Notice(NoticeLoggedOut)
	b.authChanged()
	if err != nil {
		return fmt.Errorf("credential: logout: %w", err)
	}
	return nil
}

// Profile validates the stored token against the registry. A 401 or 403
// clears the token.
func (b *Broker) Profile(ctx context.Context) (*registry.Profile, error) {
	token := b.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	profile, err := b.registry.Me(ctx, token)
	if err == nil {
		return profile, nil
	}
	if !registry.IsUnauthorized(err) {
		return nil, err
	}

	log.Printf("[Credential] Registry rejected stored token, clearing it")
	b.invalidate(ctx, token)
	return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
}

// invalidate clears token unless it was replaced in the meantime.
func (b *Broker) invalidate(ctx context.Context, token string) {
	b.writeMu.Lock()
	if b.Token() != token {
		b.writeMu.Unlock()
		return
	}
	err := b.store.SaveAuthToken(ctx, "")
	b.mu.Lock()
	b.cred.AuthToken = ""
	b.mu.Unlock()
	b.writeMu.Unlock()

	if err != nil {
		log.Printf("[Credential] WARNING: failed to persist token invalidation: %v", err)
	}
	b.notifier.Notice(NoticeSessionGone)
	b.authChanged()
}

// setToken persists token and then publishes it, returning the token it
// replaced.
func (b *Broker) setToken(ctx context.Context, token string) (string, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	previous := b.Token()
	if err := b.store.SaveAuthToken(ctx, token); err != nil {
		return previous, err
	}
	b.mu.Lock()
	b.cred.AuthToken = token
	b.mu.Unlock()
	return previous, nil
}

func (b *Broker) authChanged() {
	if b.onAuthChange != nil {
		b.onAuthChange()
	}
}
