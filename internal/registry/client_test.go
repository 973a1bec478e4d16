package registry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/nupi-ai/nexus/internal/constants"
	"github.com/nupi-ai/nexus/internal/envelope"
	"github.com/nupi-ai/nexus/internal/registry"
	"github.com/nupi-ai/nexus/internal/registry/registrytest"
)

func newClient(t *testing.T, srv *registrytest.Server) *registry.Client {
	t.Helper()
	c, err := registry.New(registry.Options{BaseURL: srv.URL, DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return c
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "example.com", "https://"} {
		if _, err := registry.New(registry.Options{BaseURL: raw}); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestNewDefaultsBaseURL(t *testing.T) {
	c, err := registry.New(registry.Options{})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if c.BaseURL() != constants.DefaultAPIURL {
		t.Fatalf("BaseURL = %q, want %q", c.BaseURL(), constants.DefaultAPIURL)
	}
}

func TestGetComponentSendsEncryptedPayloadWithoutCredential(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.Handle(constants.ActionComponentGet, func(r registrytest.OpRequest) registrytest.Response {
		return registrytest.OK(map[string]string{"id": r.Param("id"), "name": "Widget Two"})
	})
	c := newClient(t, srv)

	info, err := c.GetComponent(context.Background(), "widget-v2")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if info.Name != "Widget Two" {
		t.Fatalf("name = %q, want Widget Two", info.Name)
	}

	calls := srv.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.Action != constants.ActionComponentGet || call.Param("id") != "widget-v2" {
		t.Fatalf("unexpected call %+v", call)
	}
	if call.DeviceID != "device-1" {
		t.Errorf("device id header = %q", call.DeviceID)
	}
	if got := call.Header.Get(constants.HeaderPluginName); got != "beto-nexus" {
		t.Errorf("plugin name header = %q", got)
	}
	if got := call.Header.Get(constants.HeaderPluginSource); got != "nexus-cli" {
		t.Errorf("plugin source header = %q", got)
	}
	if got := call.Header.Get("Authorization"); got != "" {
		t.Errorf("unauthenticated call carried Authorization %q", got)
	}
	if !strings.HasPrefix(call.Header.Get("User-Agent"), "nexus-cli/") {
		t.Errorf("unexpected User-Agent %q", call.Header.Get("User-Agent"))
	}
}

func TestCallDecryptsEncryptedResponse(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.EncryptResponses(true)
	srv.Handle(constants.ActionComponentDownload, func(r registrytest.OpRequest) registrytest.Response {
		return registrytest.OK(map[string]string{"url": "https://obj/archive.zip", "name": "Widget Two"})
	})
	c := newClient(t, srv)

	ticket, err := c.RequestDownload(context.Background(), "widget-v2", "tok123")
	if err != nil {
		t.Fatalf("RequestDownload: %v", err)
	}
	if ticket.URL != "https://obj/archive.zip" || ticket.Name != "Widget Two" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if got := srv.Calls()[0].Token; got != "tok123" {
		t.Fatalf("bearer token = %q, want tok123", got)
	}
}

func TestExchangeCode(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.Handle(constants.ActionExchangeCode, func(r registrytest.OpRequest) registrytest.Response {
		if r.Param("code") != "otp-1" {
			return registrytest.Fail(http.StatusBadRequest, "invalid code")
		}
		return registrytest.OK(map[string]string{"token": "tok-" + r.Param("deviceId")})
	})
	c := newClient(t, srv)

	token, err := c.ExchangeCode(context.Background(), "otp-1")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if token != "tok-device-1" {
		t.Fatalf("token = %q", token)
	}

	_, err = c.ExchangeCode(context.Background(), "wrong")
	var se *registry.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 StatusError, got %v", err)
	}
	if se.Message != "invalid code" || se.Action != constants.ActionExchangeCode {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestExchangeCodeMissingToken(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.Handle(constants.ActionExchangeCode, func(registrytest.OpRequest) registrytest.Response {
		return registrytest.OK(map[string]string{})
	})
	c := newClient(t, srv)

	if _, err := c.ExchangeCode(context.Background(), "otp"); !errors.Is(err, registry.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestMe(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.Handle(constants.ActionMe, func(r registrytest.OpRequest) registrytest.Response {
		if r.Token != "good" {
			return registrytest.Fail(http.StatusUnauthorized, "invalid token")
		}
		return registrytest.OK(map[string]any{"user": map[string]string{"id": "u1", "email": "a@b.c", "tier": "Pro"}})
	})
	c := newClient(t, srv)

	p, err := c.Me(context.Background(), "good")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if p.ID != "u1" || p.Email != "a@b.c" || p.Tier != "Pro" {
		t.Fatalf("unexpected profile %+v", p)
	}

	_, err = c.Me(context.Background(), "bad")
	if !registry.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestIsUnauthorized(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&registry.StatusError{StatusCode: 401}, true},
		{&registry.StatusError{StatusCode: 403}, true},
		{&registry.StatusError{StatusCode: 500}, false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tc := range tests {
		if got := registry.IsUnauthorized(tc.err); got != tc.want {
			t.Errorf("IsUnauthorized(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestConcurrentCallsShareOneKeyFetch(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.Handle(constants.ActionComponentGet, func(r registrytest.OpRequest) registrytest.Response {
		return registrytest.OK(map[string]string{"name": "n"})
	})
	c := newClient(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetComponent(context.Background(), "x"); err != nil {
				t.Errorf("GetComponent: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := srv.KeyFetches(); got != 1 {
		t.Fatalf("key endpoint hit %d times, want 1", got)
	}
}

func TestKeyEndpointFailureIsKeyUnavailable(t *testing.T) {
	var opsHits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == constants.OpsEndpointPath {
			opsHits++
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := registry.New(registry.Options{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if _, err := c.GetComponent(context.Background(), "x"); !errors.Is(err, envelope.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
	if opsHits != 0 {
		t.Fatalf("ops endpoint called without a key")
	}
}

func TestUnknownActionIsStatusError(t *testing.T) {
	srv := registrytest.NewServer(t)
	c := newClient(t, srv)

	err := c.Call(context.Background(), "nope", nil, "", nil)
	if !registry.IsStatus(err) {
		t.Fatalf("expected StatusError, got %v", err)
	}
}

func TestLimiterRespectsContext(t *testing.T) {
	srv := registrytest.NewServer(t)
	srv.Handle(constants.ActionComponentGet, func(registrytest.OpRequest) registrytest.Response {
		return registrytest.OK(map[string]string{"name": "n"})
	})
	c, err := registry.New(registry.Options{
		BaseURL: srv.URL,
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	if _, err := c.GetComponent(context.Background(), "x"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.GetComponent(ctx, "x"); err == nil {
		t.Fatal("expected throttled call to fail with a short deadline")
	}
	if got := len(srv.Calls()); got != 1 {
		t.Fatalf("throttled call reached the server: %d calls", got)
	}
}
