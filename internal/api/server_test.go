package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/discovery"
	"github.com/nerrad567/petlibro-bridge/internal/driver"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/config"
	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeReconciler serves a fixed entity set and scripted pass results.
type fakeReconciler struct {
	mu       sync.Mutex
	entities []*discovery.LocalEntity
	result   discovery.Result
	err      error
	passes   int
}

func (f *fakeReconciler) Reconcile(context.Context) (discovery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	return f.result, f.err
}

func (f *fakeReconciler) Entities() []*discovery.LocalEntity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discovery.LocalEntity(nil), f.entities...)
}

func (f *fakeReconciler) Entity(id string) (*discovery.LocalEntity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, le := range f.entities {
		if le.Entity.ID == id {
			return le, true
		}
	}
	return nil, false
}

// fakeVendor records feeds; telemetry is never available.
type fakeVendor struct {
	mu      sync.Mutex
	feeds   []string
	feedErr error
}

func (v *fakeVendor) ManualFeed(_ context.Context, serial string, _ int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.feeds = append(v.feeds, serial)
	return v.feedErr
}

func (v *fakeVendor) FetchTelemetry(context.Context, string) (petlibro.Telemetry, bool) {
	return petlibro.Telemetry{}, false
}

func (v *fakeVendor) feedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.feeds)
}

type fakeSession petlibro.State

func (s fakeSession) State() petlibro.State { return petlibro.State(s) }

type fixture struct {
	srv      *Server
	router   http.Handler
	rec      *fakeReconciler
	vendor   *fakeVendor
	feeder   *discovery.LocalEntity
	fountain *discovery.LocalEntity
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer builds a Server over one feeder and one fountain with real
// drivers. secret enables bearer auth when non-empty.
func testServer(t *testing.T, secret string) *fixture {
	t.Helper()

	f := &fixture{rec: &fakeReconciler{}, vendor: &fakeVendor{}}
	factory := &driver.Factory{Vendor: f.vendor, Portions: 1}
	add := func(serial, name, product string) *discovery.LocalEntity {
		e, err := device.NewEntity(petlibro.RemoteDevice{Serial: serial, Name: name, ProductName: product})
		if err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
		drv, err := factory.New(e, nil)
		if err != nil {
			t.Fatalf("factory.New: %v", err)
		}
		t.Cleanup(drv.Stop)
		le := &discovery.LocalEntity{Entity: e, Driver: drv}
		f.rec.entities = append(f.rec.entities, le)
		return le
	}
	f.fountain = add("PLWF105-1", "Bedroom Fountain", "Dockstream Smart Fountain")
	f.feeder = add("PLAF103-1", "Kitchen Feeder", "Granary Smart Feeder")

	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:         config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:   config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:     testLogger(),
		Reconciler: f.rec,
		Session:    fakeSession(petlibro.StateAuthenticated),
		Hub:        hub,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.srv = srv
	f.router = srv.buildRouter()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Reconciler: &fakeReconciler{}}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without reconciler succeeded")
	}
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	f := testServer(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	if resp["entities"] != float64(2) {
		t.Errorf("entities = %v, want 2", resp["entities"])
	}
}

func TestRequestID(t *testing.T) {
	f := testServer(t, "")

	if w := f.do(t, http.MethodGet, "/api/v1/health", ""); w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
	w := f.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := testServer(t, "")
	w := f.do(t, http.MethodOptions, "/api/v1/entities", "", "Origin", "http://localhost:3000")

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
}

func TestNotFound(t *testing.T) {
	f := testServer(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var e Error
	decodeBody(t, w, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

// ─── Session ───────────────────────────────────────────────────────

func TestSession(t *testing.T) {
	f := testServer(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/session", "")

	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["state"] != string(petlibro.StateAuthenticated) {
		t.Errorf("state = %q, want authenticated", resp["state"])
	}
}

func TestSession_NoSessionIsUnauthenticated(t *testing.T) {
	f := testServer(t, "")
	f.srv.session = nil

	var resp map[string]string
	decodeBody(t, f.do(t, http.MethodGet, "/api/v1/session", ""), &resp)
	if resp["state"] != string(petlibro.StateUnauthenticated) {
		t.Errorf("state = %q, want unauthenticated", resp["state"])
	}
}

// ─── Entities ──────────────────────────────────────────────────────

func TestListEntities(t *testing.T) {
	f := testServer(t, "")
	w := f.do(t, http.MethodGet, "/api/v1/entities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Entities []EntityResponse `json:"entities"`
		Count    int              `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 || len(resp.Entities) != 2 {
		t.Fatalf("count = %d, entities = %d, want 2", resp.Count, len(resp.Entities))
	}

	fountain := resp.Entities[0]
	if fountain.Kind != device.KindFountain || fountain.Name != "Bedroom Fountain" {
		t.Errorf("entities[0] = %s %q, want fountain Bedroom Fountain", fountain.Kind, fountain.Name)
	}
	if fountain.Info.Manufacturer != device.Manufacturer || fountain.Info.Serial != "PLWF105-1" {
		t.Errorf("fountain info = %+v", fountain.Info)
	}
	if len(fountain.Characteristics) != 1 || fountain.Characteristics[0].Name != driver.CharWaterLevel {
		t.Fatalf("fountain characteristics = %+v", fountain.Characteristics)
	}
	if fountain.Characteristics[0].Writable {
		t.Error("water_level should not be writable")
	}

	feeder := resp.Entities[1]
	if len(feeder.Characteristics) != 1 || feeder.Characteristics[0].Name != driver.CharOn {
		t.Fatalf("feeder characteristics = %+v", feeder.Characteristics)
	}
	if !feeder.Characteristics[0].Writable || feeder.Characteristics[0].Value != false {
		t.Errorf("feeder on = %+v, want writable and false", feeder.Characteristics[0])
	}
}

func TestGetEntity(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/entities/"+f.feeder.Entity.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp EntityResponse
	decodeBody(t, w, &resp)
	if resp.ID != f.feeder.Entity.ID || resp.Kind != device.KindFeeder {
		t.Errorf("entity = %s %s", resp.ID, resp.Kind)
	}

	if w := f.do(t, http.MethodGet, "/api/v1/entities/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing entity status = %d, want 404", w.Code)
	}
}

func TestGetCharacteristic(t *testing.T) {
	f := testServer(t, "")
	f.fountain.Driver.Characteristics()[0].UpdateValue(64.0)

	w := f.do(t, http.MethodGet, "/api/v1/entities/"+f.fountain.Entity.ID+"/characteristics/water_level", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["value"] != 64.0 {
		t.Errorf("value = %v, want 64", resp["value"])
	}

	w = f.do(t, http.MethodGet, "/api/v1/entities/"+f.fountain.Entity.ID+"/characteristics/on", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown characteristic status = %d, want 404", w.Code)
	}
}

func TestSetCharacteristic_Feeds(t *testing.T) {
	f := testServer(t, "")
	path := "/api/v1/entities/" + f.feeder.Entity.ID + "/characteristics/on"

	w := f.do(t, http.MethodPut, path, `{"value": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if got := f.vendor.feedCount(); got != 1 {
		t.Fatalf("feeds = %d, want 1", got)
	}
	if f.vendor.feeds[0] != "PLAF103-1" {
		t.Errorf("fed serial = %q, want PLAF103-1", f.vendor.feeds[0])
	}
}

func TestSetCharacteristic_FeedFailureStillSucceeds(t *testing.T) {
	f := testServer(t, "")
	f.vendor.feedErr = fmt.Errorf("%w: rejected", petlibro.ErrCommandRejected)

	w := f.do(t, http.MethodPut, "/api/v1/entities/"+f.feeder.Entity.ID+"/characteristics/on", `{"value": "on"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200; feed failures are logged, not surfaced", w.Code)
	}
	if got := f.vendor.feedCount(); got != 1 {
		t.Errorf("feeds = %d, want 1", got)
	}
}

func TestSetCharacteristic_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     func(f *fixture) string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "read-only",
			target:     func(f *fixture) string { return f.fountain.Entity.ID + "/characteristics/water_level" },
			body:       `{"value": 50}`,
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   ErrCodeMethodNotAllow,
		},
		{
			name:       "not a boolean",
			target:     func(f *fixture) string { return f.feeder.Entity.ID + "/characteristics/on" },
			body:       `{"value": "maybe"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "missing value",
			target:     func(f *fixture) string { return f.feeder.Entity.ID + "/characteristics/on" },
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "invalid JSON",
			target:     func(f *fixture) string { return f.feeder.Entity.ID + "/characteristics/on" },
			body:       `{"value":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "unknown entity",
			target:     func(*fixture) string { return "missing/characteristics/on" },
			body:       `{"value": true}`,
			wantStatus: http.StatusNotFound,
			wantCode:   ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, "")
			w := f.do(t, http.MethodPut, "/api/v1/entities/"+tt.target(f), tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			var e Error
			decodeBody(t, w, &e)
			if e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
			if got := f.vendor.feedCount(); got != 0 {
				t.Errorf("feeds = %d, want 0", got)
			}
		})
	}
}

func TestSetCharacteristic_OffIsNoop(t *testing.T) {
	f := testServer(t, "")
	w := f.do(t, http.MethodPut, "/api/v1/entities/"+f.feeder.Entity.ID+"/characteristics/on", `{"value": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := f.vendor.feedCount(); got != 0 {
		t.Errorf("feeds = %d, want 0", got)
	}
}

// ─── Discovery ─────────────────────────────────────────────────────

func TestDiscovery(t *testing.T) {
	f := testServer(t, "")
	f.rec.result = discovery.Result{Created: []string{"a"}, Updated: []string{}, Removed: []string{"b"}}

	w := f.do(t, http.MethodPost, "/api/v1/discovery", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got discovery.Result
	decodeBody(t, w, &got)
	if len(got.Created) != 1 || got.Created[0] != "a" || len(got.Removed) != 1 || got.Removed[0] != "b" {
		t.Errorf("result = %+v", got)
	}
	if f.rec.passes != 1 {
		t.Errorf("passes = %d, want 1", f.rec.passes)
	}
}

func TestDiscovery_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing credentials", fmt.Errorf("authenticating: %w", petlibro.ErrMissingCredentials), http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"login rejected", fmt.Errorf("authenticating: %w", &petlibro.AuthError{Code: 1009, Message: "bad password"}), http.StatusBadGateway, ErrCodeUpstream},
		{"closed", discovery.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"transport", fmt.Errorf("listing devices: %w", petlibro.ErrTransport), http.StatusBadGateway, ErrCodeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testServer(t, "")
			f.rec.err = tt.err

			w := f.do(t, http.MethodPost, "/api/v1/discovery", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var e Error
			decodeBody(t, w, &e)
			if e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
		})
	}
}

// ─── Authentication ────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	f := testServer(t, testSecret)

	good, err := IssueToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	forged, err := IssueToken("another-secret-key-at-least-32-characters", "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name       string
		path       string
		header     []string
		wantStatus int
	}{
		{"health stays open", "/api/v1/health", nil, http.StatusOK},
		{"no token", "/api/v1/entities", nil, http.StatusUnauthorized},
		{"valid token", "/api/v1/entities", []string{"Authorization", "Bearer " + good}, http.StatusOK},
		{"wrong secret", "/api/v1/entities", []string{"Authorization", "Bearer " + forged}, http.StatusUnauthorized},
		{"not bearer", "/api/v1/entities", []string{"Authorization", "Basic b3BzOnB3"}, http.StatusUnauthorized},
		{"empty bearer", "/api/v1/session", []string{"Authorization", "Bearer "}, http.StatusUnauthorized},
		{"query token without upgrade", "/api/v1/entities?access_token=" + good, nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, tt.path, "", tt.header...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestIssueToken(t *testing.T) {
	if _, err := IssueToken("", "ops", time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty secret: err = %v, want ErrTokenInvalid", err)
	}
	if _, err := IssueToken(testSecret, "", time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty subject: err = %v, want ErrTokenInvalid", err)
	}

	token, err := IssueToken(testSecret, "ops", 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := parseToken(token, testSecret)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("subject = %q, want ops", claims.Subject)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl < 23*time.Hour || ttl > defaultTokenTTL {
		t.Errorf("ttl = %v, want about %v", ttl, defaultTokenTTL)
	}

	if _, err := parseToken(token+"x", testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("tampered token: err = %v, want ErrTokenInvalid", err)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	f := testServer(t, "")

	if err := f.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestServer_WaitReportsServeFailure(t *testing.T) {
	f := testServer(t, "")
	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.srv.Wait(ctx); err != nil {
		t.Errorf("Wait() after cancel = %v, want nil", err)
	}

	f.srv.listener.Close()
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.srv.Wait(ctx); err == nil {
		t.Error("Wait() = nil after the listener failed")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	f := testServer(t, "")
	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
