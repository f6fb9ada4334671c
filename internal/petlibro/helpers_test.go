package petlibro

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeVendor is an in-process stand-in for the PetLibro cloud API.
// Handlers are keyed by path; a missing handler answers 404.
type fakeVendor struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests map[string][]recordedRequest

	logins atomic.Int32
}

type recordedRequest struct {
	header http.Header
	body   map[string]any
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	v := &fakeVendor{
		t:        t,
		handlers: make(map[string]http.HandlerFunc),
		requests: make(map[string][]recordedRequest),
	}
	v.handle(pathLogin, func(w http.ResponseWriter, _ *http.Request) {
		v.logins.Add(1)
		writeJSON(w, map[string]any{
			"code": 0,
			"data": map[string]any{"token": "tok-1", "refresh_token": "ref-1", "expires_in": 3600},
		})
	})

	v.server = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(v.server.Close)
	return v
}

func (v *fakeVendor) handle(path string, h http.HandlerFunc) {
	v.mu.Lock()
	v.handlers[path] = h
	v.mu.Unlock()
}

func (v *fakeVendor) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	v.mu.Lock()
	v.requests[r.URL.Path] = append(v.requests[r.URL.Path], recordedRequest{header: r.Header.Clone(), body: body})
	h := v.handlers[r.URL.Path]
	v.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (v *fakeVendor) recorded(path string) []recordedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]recordedRequest(nil), v.requests[path]...)
}

func (v *fakeVendor) client() *Client {
	return NewClient(Config{
		BaseURL:  v.server.URL,
		Email:    "owner@example.com",
		Password: "hunter2",
		Country:  "GB",
		Timezone: "Europe/London",
	}, nil)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}
