// Package registry is the HTTP transport to the component registry. Every
// operation other than key issuance travels as an encrypted envelope to the
// ops endpoint.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nupi-ai/nexus/internal/constants"
	"github.com/nupi-ai/nexus/internal/envelope"
	"github.com/nupi-ai/nexus/internal/sanitize"
	"github.com/nupi-ai/nexus/internal/tlswarn"
	"github.com/nupi-ai/nexus/internal/validate"
	"github.com/nupi-ai/nexus/internal/version"
)

const maxResponseSize = 1 * 1024 * 1024 // 1 MB

// Options configures a Client.
type Options struct {
	// BaseURL of the registry API. Defaults to constants.DefaultAPIURL.
	BaseURL  string
	DeviceID string
	// HTTPClient overrides the default client (30s timeout, http(s)-only redirects).
	HTTPClient *http.Client
	// Limiter throttles ops calls. Nil disables throttling.
	Limiter *rate.Limiter
	// SessionOptions are passed to the envelope session built by New.
	SessionOptions []envelope.Option
}

// Client talks to the registry. It owns the envelope session used for its
// own ops calls.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
	limiter  *rate.Limiter
	session  *envelope.Session
}

// New creates a registry client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = constants.DefaultAPIURL
	}
	if err := validate.HTTPURL(base); err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	tlswarn.PlainHTTP(base)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(constants.RegistryRequestTimeout)
	}

	c := &Client{
		baseURL:  base,
		deviceID: opts.DeviceID,
		http:     httpClient,
		limiter:  opts.Limiter,
	}
	c.session = envelope.NewSession(c, opts.SessionOptions...)
	return c, nil
}

// BaseURL returns the registry base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session returns the envelope session bound to this client.
func (c *Client) Session() *envelope.Session {
	return c.session
}

// FetchKey requests a fresh envelope key. It satisfies envelope.KeySource.
func (c *Client) FetchKey(ctx context.Context) (*envelope.IssuedKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+constants.KeyEndpointPath, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Action: "security/key", Message: errorMessage(body)}
	}

	var issued envelope.IssuedKey
	if err := json.Unmarshal(body, &issued); err != nil {
		return nil, fmt.Errorf("%w: decode key response: %v", ErrMalformedResponse, err)
	}
	return &issued, nil
}

// Call performs one encrypted operation. params are merged into the payload
// next to the "_action" discriminator. A non-empty token is sent as a bearer
// credential. The response, plain or encrypted, is decoded into out when out
// is non-nil.
func (c *Client) Call(ctx context.Context, action string, params map[string]any, token string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("registry %s: %w", action, err)
		}
	}

	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["_action"] = action

	env, err := c.session.Encrypt(ctx, payload)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+constants.OpsEndpointPath, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	c.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return fmt.Errorf("registry %s: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Action: action, Message: errorMessage(body)}
	}

	return c.decodeResponse(ctx, action, body, out)
}

func (c *Client) decodeResponse(ctx context.Context, action string, body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		if out == nil {
			return nil
		}
		return fmt.Errorf("%w: %s: empty body", ErrMalformedResponse, action)
	}

	var probe struct {
		Encrypted bool `json:"encrypted"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, action, err)
	}

	if probe.Encrypted {
		var env envelope.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, action, err)
		}
		if out == nil {
			var discard json.RawMessage
			return c.session.Decrypt(ctx, &env, &discard)
		}
		return c.session.Decrypt(ctx, &env, out)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, action, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range constants.ClientHeaders {
		req.Header.Set(k, v)
	}
	if c.deviceID != "" {
		req.Header.Set(constants.HeaderDeviceID, c.deviceID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// NewHTTPClient returns a client that only follows http(s) redirects, at
// most ten of them.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			// Block redirects to non-HTTP(S) schemes (SSRF prevention)
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to disallowed scheme: %s", req.URL.Scheme)
			}
			return nil
		},
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > maxResponseSize {
		return nil, fmt.Errorf("response exceeds maximum size (%d bytes)", maxResponseSize)
	}
	return data, nil
}

// errorMessage pulls a short message out of an error body, if it carries one.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Error != "" {
		return sanitize.Line(e.Error, sanitize.MaxMessageBytes)
	}
	return sanitize.Line(e.Message, sanitize.MaxMessageBytes)
}
