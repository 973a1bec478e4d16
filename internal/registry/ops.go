package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/nupi-ai/nexus/internal/constants"
)

// Profile is the account behind a bearer token.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Tier  string `json:"tier,omitempty"`
}

// DownloadTicket is the phase-one answer to a download request: a
// short-lived signed object URL and, optionally, the display name.
type DownloadTicket struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// ComponentInfo is the public metadata of a component.
type ComponentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExchangeCode trades a one-time authorization code for a bearer token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	params := map[string]any{"code": code, "deviceId": c.deviceID}
	if err := c.Call(ctx, constants.ActionExchangeCode, params, "", &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", fmt.Errorf("%w: %s: token missing", ErrMalformedResponse, constants.ActionExchangeCode)
	}
	return resp.Token, nil
}

// Me returns the profile for token.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	var resp struct {
		User *Profile `json:"user"`
	}
	if err := c.Call(ctx, constants.ActionMe, nil, token, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("%w: %s: user missing", ErrMalformedResponse, constants.ActionMe)
	}
	return resp.User, nil
}

// RequestDownload asks for a signed URL for component id.
func (c *Client) RequestDownload(ctx context.Context, id, token string) (*DownloadTicket, error) {
	var ticket DownloadTicket
	if err := c.Call(ctx, constants.ActionComponentDownload, map[string]any{"id": id}, token, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetComponent looks up public component metadata. No credential is sent.
func (c *Client) GetComponent(ctx context.Context, id string) (*ComponentInfo, error) {
	var info ComponentInfo
	if err := c.Call(ctx, constants.ActionComponentGet, map[string]any{"id": id}, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}
