package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
	"taeu.kr/cmdbconsole/internal/session"
)

const (
	DefaultBaseURL     = "http://localhost:5000/api/v1"
	DefaultRefreshPath = "/auth/refresh"
	DefaultTimeout     = 30 * time.Second

	RequestIDHeader = "X-Request-ID"
)

type ResponseType int

const (
	// ResponseJSON decodes the {code, message, data} envelope.
	ResponseJSON ResponseType = iota
	// ResponseRaw returns the body bytes untouched.
	ResponseRaw
)

// RequestSpec describes one call to the console API. Path is relative to the
// client's base URL.
type RequestSpec struct {
	Method       string
	Path         string
	Query        url.Values
	Body         any
	Header       http.Header
	ResponseType ResponseType

	// SkipRefresh returns a 401 to the caller as-is.
	SkipRefresh bool
}

// Envelope is the console API response body.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`

	Status int    `json:"-"`
	Raw    []byte `json:"-"`
}

// Decode unmarshals the envelope data into v. An envelope whose code is not
// 200 is returned as an *Error.
func (e *Envelope) Decode(v any) error {
	if e.Code != http.StatusOK {
		return &Error{Status: e.Status, Code: e.Code, Message: e.Message}
	}
	if v == nil || len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

type Options struct {
	BaseURL     string
	RefreshPath string
	Timeout     time.Duration
	HTTPClient  *http.Client
	// Refresh replaces the built-in call to RefreshPath.
	Refresh RefreshFunc
}

// Client sends console API calls on behalf of one session.
type Client struct {
	baseURL     string
	refreshPath string
	http        *http.Client
	store       *session.Store
	coordinator *Coordinator
}

func NewClient(opts Options, store *session.Store) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RefreshPath == "" {
		opts.RefreshPath = DefaultRefreshPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			log.Warn().Err(err).Msg("[Transport] cookie jar unavailable, continuing without cookies")
		} else {
			httpClient.Jar = jar
		}
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		refreshPath: opts.RefreshPath,
		http:        httpClient,
		store:       store,
	}
	refresh := opts.Refresh
	if refresh == nil {
		refresh = c.refreshTokens
	}
	c.coordinator = NewCoordinator(store, refresh)
	return c
}

func (c *Client) Store() *session.Store {
	return c.store
}

// Send dispatches spec. A 401 on any call but the refresh call itself is
// recovered once through the session's Coordinator; when the refresh fails
// the session is torn down and the original error returned.
func (c *Client) Send(ctx context.Context, spec RequestSpec) (*Envelope, error) {
	body, err := encodeBody(spec.Body)
	if err != nil {
		return nil, err
	}

	isRefresh := c.isRefreshPath(spec.Path)
	explicitAuth := spec.Header.Get("Authorization") != ""

	var access string
	if !isRefresh && !explicitAuth {
		access = c.store.AccessToken()
	}

	env, err := c.dispatch(ctx, spec, body, access)
	if err == nil || !IsUnauthorized(err) {
		return env, err
	}

	if isRefresh {
		c.store.Teardown(context.WithoutCancel(ctx))
		return nil, err
	}
	if spec.SkipRefresh || explicitAuth {
		return nil, err
	}

	if rerr := c.coordinator.Refresh(ctx, access); rerr != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.Warn().Err(rerr).Str("path", spec.Path).Msg("[Transport] refresh failed, giving up")
		c.store.Teardown(context.WithoutCancel(ctx))
		return nil, err
	}

	// One retry only; a second 401 is the caller's.
	return c.dispatch(ctx, spec, body, c.store.AccessToken())
}

func (c *Client) dispatch(ctx context.Context, spec RequestSpec, body []byte, access string) (*Envelope, error) {
	req, err := c.newRequest(ctx, spec, body, access)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, spec.Path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", req.Method, spec.Path, err)
	}

	log.Debug().
		Str("request_id", req.Header.Get(RequestIDHeader)).
		Str("method", req.Method).
		Str("path", spec.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("[Transport] response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(resp.StatusCode, payload)
	}

	if spec.ResponseType == ResponseRaw {
		return &Envelope{Code: http.StatusOK, Status: resp.StatusCode, Raw: payload}, nil
	}

	env := &Envelope{Status: resp.StatusCode}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, env); err != nil {
			return nil, &Error{Status: resp.StatusCode, Message: "invalid response body", Err: err}
		}
	}
	if env.Code == 0 {
		env.Code = http.StatusOK
	}
	return env, nil
}

func (c *Client) newRequest(ctx context.Context, spec RequestSpec, body []byte, access string) (*http.Request, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + spec.Path
	if len(spec.Query) > 0 {
		target += "?" + spec.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, values := range spec.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if spec.ResponseType == ResponseJSON && req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) isRefreshPath(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.TrimRight(path, "/") == strings.TrimRight(c.refreshPath, "/")
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refreshTokens calls the refresh endpoint with the refresh token as bearer.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	env, err := c.Send(ctx, RequestSpec{
		Method: http.MethodPost,
		Path:   c.refreshPath,
		Header: http.Header{"Authorization": {"Bearer " + refreshToken}},
	})
	if err != nil {
		return "", "", err
	}

	var out refreshResponse
	if err := env.Decode(&out); err != nil {
		return "", "", err
	}
	if out.AccessToken == "" {
		return "", "", &Error{Status: env.Status, Code: env.Code, Message: "refresh response without access token"}
	}
	return out.AccessToken, out.RefreshToken, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newError(status int, payload []byte) *Error {
	e := &Error{Status: status, Code: status}
	var body errorBody
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Code != 0 {
			e.Code = body.Code
		}
		e.Message = body.Message
		if e.Message == "" {
			e.Message = body.Error
		}
	}
	return e
}
