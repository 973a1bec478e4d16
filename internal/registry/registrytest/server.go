// Package registrytest runs an in-process fake registry and object store.
package registrytest

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nupi-ai/nexus/internal/constants"
	"github.com/nupi-ai/nexus/internal/envelope"
)

// OpRequest is a decrypted ops call as seen by the fake registry.
type OpRequest struct {
	Action   string
	Params   map[string]any
	Token    string
	DeviceID string
	Header   http.Header
}

// Param returns a string parameter, or "".
func (r OpRequest) Param(name string) string {
	s, _ := r.Params[name].(string)
	return s
}

// Response is what an OpHandler answers.
type Response struct {
	Status int
	Body   any
}

// OK is a 200 response carrying body.
func OK(body any) Response { return Response{Status: http.StatusOK, Body: body} }

// Fail is a non-2xx response with an error message.
func Fail(status int, msg string) Response {
	return Response{Status: status, Body: map[string]string{"error": msg}}
}

// OpHandler serves one action.
type OpHandler func(OpRequest) Response

type serverKey struct {
	id   string
	raw  []byte
	aead cipher.AEAD
}

// Server is a fake registry backed by httptest.
type Server struct {
	*httptest.Server

	t *testing.T

	mu               sync.Mutex
	keys             map[string]*serverKey
	current          *serverKey
	keySeq           int
	expiresIn        int64
	encryptResponses bool
	handlers         map[string]OpHandler
	objects          map[string][]byte
	objectStatus     map[string]int
	calls            []OpRequest
	objectHeaders    []http.Header

	keyFetches atomic.Int32
}

// NewServer starts a fake registry. It is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		t:            t,
		keys:         make(map[string]*serverKey),
		expiresIn:    3600,
		handlers:     make(map[string]OpHandler),
		objects:      make(map[string][]byte),
		objectStatus: make(map[string]int),
	}
	s.RotateKey()

	r := chi.NewRouter()
	r.Get(constants.KeyEndpointPath, s.handleKey)
	r.Post(constants.OpsEndpointPath, s.handleOps)
	r.Get("/objects/{name}", s.handleObject)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// RotateKey issues a new current key. Older keys still decrypt requests.
func (s *Server) RotateKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		s.t.Fatalf("generate key: %v", err)
	}
	aead, err := envelope.NewAEAD(raw)
	if err != nil {
		s.t.Fatalf("build aead: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keySeq++
	k := &serverKey{id: fmt.Sprintf("key-%d", s.keySeq), raw: raw, aead: aead}
	s.keys[k.id] = k
	s.current = k
	return k.id
}

// SetKeyLifetime sets the expiresIn value announced with each key.
func (s *Server) SetKeyLifetime(seconds int64) {
	s.mu.Lock()
	s.expiresIn = seconds
	s.mu.Unlock()
}

// EncryptResponses makes 2xx ops responses come back as envelopes.
func (s *Server) EncryptResponses(on bool) {
	s.mu.Lock()
	s.encryptResponses = on
	s.mu.Unlock()
}

// Handle registers fn for action.
func (s *Server) Handle(action string, fn OpHandler) {
	s.mu.Lock()
	s.handlers[action] = fn
	s.mu.Unlock()
}

// PutObject stores data and returns its URL.
func (s *Server) PutObject(name string, data []byte) string {
	s.mu.Lock()
	s.objects[name] = data
	s.mu.Unlock()
	return s.URL + "/objects/" + name
}

// SetObjectStatus forces the object route to answer status for name.
func (s *Server) SetObjectStatus(name string, status int) {
	s.mu.Lock()
	s.objectStatus[name] = status
	s.mu.Unlock()
}

// KeyFetches returns how many times the key endpoint was hit.
func (s *Server) KeyFetches() int {
	return int(s.keyFetches.Load())
}

// Calls returns every decrypted ops call, in arrival order.
func (s *Server) Calls() []OpRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OpRequest(nil), s.calls...)
}

// CallsFor returns the calls for one action.
func (s *Server) CallsFor(action string) []OpRequest {
	var out []OpRequest
	for _, c := range s.Calls() {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

// ObjectRequests returns the headers of every object fetch.
func (s *Server) ObjectRequests() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.objectHeaders...)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	s.keyFetches.Add(1)

	s.mu.Lock()
	k := s.current
	expiresIn := s.expiresIn
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, envelope.IssuedKey{
		ID:        k.id,
		Key:       base64.StdEncoding.EncodeToString(k.raw),
		ExpiresIn: expiresIn,
	})
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	var env envelope.Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad envelope"})
		return
	}

	s.mu.Lock()
	k := s.keys[env.KeyID]
	s.mu.Unlock()
	if k == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown key"})
		return
	}

	var payload map[string]any
	if err := envelope.Open(k.aead, &env, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decryption failed"})
		return
	}

	action, _ := payload["_action"].(string)
	delete(payload, "_action")
	req := OpRequest{
		Action:   action,
		Params:   payload,
		Token:    strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		DeviceID: r.Header.Get(constants.HeaderDeviceID),
		Header:   r.Header.Clone(),
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	fn := s.handlers[action]
	encrypt := s.encryptResponses
	current := s.current
	s.mu.Unlock()

	if fn == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action " + action})
		return
	}

	resp := fn(req)
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	if encrypt && resp.Status >= 200 && resp.Status < 300 {
		sealed, err := envelope.Seal(current.aead, current.id, resp.Body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, resp.Status, sealed)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	s.objectHeaders = append(s.objectHeaders, r.Header.Clone())
	data, ok := s.objects[name]
	status := s.objectStatus[name]
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}
