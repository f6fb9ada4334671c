package petlibro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fixed values of the Android app this client presents as.
const (
	appVersion = "1.3.45"
	userAgent  = "PetLibro/" + appVersion
	appSource  = "ANDROID"
	appLang    = "EN"

	DefaultBaseURL  = "https://api.us.petlibro.com"
	DefaultCountry  = "US"
	DefaultTimezone = "America/New_York"
)

// Request timeouts. A timeout fails the call.
const (
	requestTimeout = 10 * time.Second
	feedTimeout    = 15 * time.Second
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// Endpoint paths.
const (
	pathLogin    = "/member/auth/login"
	pathRefresh  = "/member/auth/refresh"
	pathList     = "/device/device/list"
	pathRealInfo = "/device/device/realInfo"
	pathFeed     = "/device/device/manualFeeding"
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	Country  string
	Timezone string

	// HTTPClient defaults to a client without a global timeout; each call
	// carries its own deadline.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Country == "" {
		c.Country = DefaultCountry
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// Client talks to the PetLibro cloud API on behalf of one account.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg     Config
	http    *http.Client
	session *Session
	logger  Logger
}

// NewClient creates a client and its session. No request is made until
// the first operation.
func NewClient(cfg Config, logger Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Client{
		cfg:    cfg,
		http:   cfg.HTTPClient,
		logger: logger,
	}
	c.session = NewSession(&httpAuthenticator{client: c}, logger)
	return c
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// envelope is the standard response wrapper. Code is a pointer so a
// missing code can be told apart from zero.
type envelope struct {
	Code    *int            `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) message() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Message != "":
		return e.Message
	default:
		return "Unknown error"
	}
}

// response is a completed HTTP exchange.
type response struct {
	status int
	body   []byte
}

// headerSet selects which of the app's headers a request carries.
type headerSet int

const (
	headersLogin headerSet = iota
	headersRefresh
	headersDevice
)

// post sends body as JSON to path. token, when non-empty, is sent the way
// the given header set expects. Any network failure or timeout is wrapped
// in ErrTransport; the status code is left to the caller.
func (c *Client) post(ctx context.Context, path string, body any, token string, hs headerSet, timeout time.Duration) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	c.setHeaders(req, token, hs)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: POST %s: %w", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrTransport, path, err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) setHeaders(req *http.Request, token string, hs headerSet) {
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)

	switch hs {
	case headersRefresh:
		h.Set("Authorization", "Bearer "+token)
		return
	case headersLogin:
		h.Set("Accept", "application/json")
		h.Set("Accept-Language", "en-US")
	case headersDevice:
		h.Set("Authorization", "Bearer "+token)
		h.Set("token", token)
	}
	h.Set("source", appSource)
	h.Set("language", appLang)
	h.Set("timezone", c.cfg.Timezone)
	h.Set("version", appVersion)
}

// decodeEnvelope checks the HTTP status and decodes the standard wrapper.
func decodeEnvelope(path string, resp *response) (envelope, error) {
	var env envelope
	if resp.status < 200 || resp.status > 299 {
		return env, fmt.Errorf("%w: POST %s: HTTP %d: %s", ErrTransport, path, resp.status, trimBody(resp.body))
	}
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return env, fmt.Errorf("%w: POST %s: decoding response: %w", ErrProtocol, path, err)
	}
	return env, nil
}

// trimBody shortens a response body for error messages and logs.
func trimBody(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
