// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backend is the typed client of the clinical-trial REST backend.
//
// One Client is built per process. It owns the instrumented HTTP client and
// the token refresh coordination; Bind attaches it to one principal's token
// store and returns the API used for calls made on that principal's behalf.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/observability/logger"
	"github.com/trialiq/console/internal/observability/metrics"
)

const (
	pathLogin    = "/auth/login"
	pathRegister = "/auth/register"
	pathRefresh  = "/auth/refresh"
	pathLogout   = "/auth/logout"

	defaultTimeout = 30 * time.Second
)

// Tokens is a principal's bearer credential pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenStore persists one principal's tokens. Key identifies the principal
// for refresh coordination.
type TokenStore interface {
	Key() string
	Tokens(ctx context.Context) (Tokens, error)
	SetTokens(ctx context.Context, t Tokens) error
	ClearTokens(ctx context.Context) error
}

// Tracer starts spans. Both trace.Tracer and the console tracer satisfy it.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RefreshTimeout bounds one token refresh flight. Defaults to Timeout.
	RefreshTimeout time.Duration
	Transport      http.RoundTripper
	Instruments    *metrics.BackendInstruments
	Tracer         Tracer
	Logger         *slog.Logger
}

// Client is the process-wide backend client.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	timeout        time.Duration
	refreshTimeout time.Duration
	inst           *metrics.BackendInstruments
	tracer         Tracer
	logger         *slog.Logger

	refreshes singleflight.Group
}

// NewClient validates cfg and builds the client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend base URL must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = timeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/trialiq/console/internal/backend")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		timeout:        timeout,
		refreshTimeout: refreshTimeout,
		inst:           cfg.Instruments,
		tracer:         tracer,
		logger:         log.With(logger.Component("backend")),
	}, nil
}

// Bind returns the API acting for the principal whose tokens live in store.
func (c *Client) Bind(store TokenStore) *API {
	return &API{c: c, store: store}
}

// API performs backend calls on behalf of one principal.
type API struct {
	c     *Client
	store TokenStore
}

// request describes one backend call. Body is JSON-encoded unless form is
// set; public requests carry no bearer and never trigger a refresh.
type request struct {
	method   string
	path     string
	query    url.Values
	body     any
	form     *multipartBody
	public   bool
	raw      bool // decode without unwrapping a {"data": ...} envelope
	optional bool // accept an empty success body
}

type multipartBody struct {
	contentType string
	payload     []byte
}

func (r *request) encode() ([]byte, string, error) {
	if r.form != nil {
		return r.form.payload, r.form.contentType, nil
	}
	if r.body == nil {
		return nil, "", nil
	}
	b, err := json.Marshal(r.body)
	if err != nil {
		return nil, "", apperr.Validation("", "failed to encode request: %v", err)
	}
	return b, "application/json", nil
}

// do runs req for the bound principal and decodes a success body into out.
// A 401 triggers one coordinated refresh and a single replay.
func (a *API) do(ctx context.Context, req request, out any) error {
	ctx, span := a.c.tracer.Start(ctx, "backend "+req.method+" "+req.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("backend.path", req.path)),
	)
	defer span.End()

	err := a.doInSpan(ctx, req, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	return err
}

func (a *API) doInSpan(ctx context.Context, req request, out any) error {
	payload, contentType, err := req.encode()
	if err != nil {
		return err
	}

	if req.public {
		resp, err := a.c.send(ctx, req, payload, contentType, "")
		if err != nil {
			return err
		}
		return decodeResponse(resp, req, out)
	}

	tokens, err := a.store.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		return &apperr.AuthError{Message: "not signed in"}
	}

	resp, err := a.c.send(ctx, req, payload, contentType, tokens.AccessToken)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return decodeResponse(resp, req, out)
	}
	drain(resp)

	access, err := a.c.refresh(ctx, a.store, tokens.AccessToken)
	if err != nil {
		return err
	}

	resp, err = a.c.send(ctx, req, payload, contentType, access)
	if err != nil {
		return err
	}
	return decodeResponse(resp, req, out)
}

func (c *Client) send(ctx context.Context, req request, payload []byte, contentType, bearer string) (*http.Response, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + req.path
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, &apperr.NetworkError{Message: "failed to build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if bearer != "" && !isPublicPath(req.path) {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		c.inst.RecordRequest(ctx, req.method, 0, elapsed.Seconds())
		c.logger.WarnContext(ctx, "backend request failed",
			logger.Method(req.method),
			logger.Backend(req.path),
			logger.Error(err),
		)
		return nil, &apperr.NetworkError{Message: "backend unreachable", Err: err}
	}
	c.inst.RecordRequest(ctx, req.method, resp.StatusCode, elapsed.Seconds())
	c.logger.DebugContext(ctx, "backend request",
		logger.Method(req.method),
		logger.Backend(req.path),
		logger.StatusCode(resp.StatusCode),
		logger.Duration(elapsed.Milliseconds()),
	)
	return resp, nil
}

// refresh exchanges the refresh token for a new access token. At most one
// refresh per principal is in flight; concurrent callers wait for its
// outcome. A caller whose stale token was already replaced gets the current
// token without another refresh. Failure clears the principal's tokens.
func (c *Client) refresh(ctx context.Context, store TokenStore, stale string) (string, error) {
	if access, done, err := superseded(ctx, store, stale); done {
		return access, err
	}

	v, err, _ := c.refreshes.Do(store.Key(), func() (any, error) {
		// the flight outlives any single waiter's cancellation
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		if access, done, err := superseded(fctx, store, stale); done {
			return access, err
		}
		return c.exchange(fctx, store)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// superseded reports whether the principal's access token has moved past
// stale, either replaced by a completed refresh or cleared by a failed one.
func superseded(ctx context.Context, store TokenStore, stale string) (string, bool, error) {
	cur, err := store.Tokens(ctx)
	if err != nil {
		return "", true, fmt.Errorf("failed to load tokens: %w", err)
	}
	if cur.AccessToken == "" {
		return "", true, &apperr.AuthError{Message: "session expired"}
	}
	if cur.AccessToken != stale {
		return cur.AccessToken, true, nil
	}
	return "", false, nil
}

func (c *Client) exchange(ctx context.Context, store TokenStore) (string, error) {
	cur, err := store.Tokens(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}

	fail := func(cause error) (string, error) {
		c.inst.RecordRefresh(ctx, false)
		if clearErr := store.ClearTokens(ctx); clearErr != nil {
			c.logger.ErrorContext(ctx, "failed to clear tokens after refresh failure", logger.Error(clearErr))
		}
		c.logger.WarnContext(ctx, "token refresh failed, signing out",
			logger.Operation("refresh"),
			logger.Error(cause),
		)
		return "", &apperr.AuthError{Message: "session expired", Err: cause}
	}

	if cur.RefreshToken == "" {
		return fail(errors.New("no refresh token"))
	}

	req := request{
		method: http.MethodPost,
		path:   pathRefresh,
		body:   map[string]string{"refresh_token": cur.RefreshToken},
		public: true,
	}
	payload, contentType, err := req.encode()
	if err != nil {
		return fail(err)
	}
	resp, err := c.send(ctx, req, payload, contentType, "")
	if err != nil {
		return fail(err)
	}
	var next Tokens
	if err := decodeResponse(resp, req, &next); err != nil {
		return fail(err)
	}
	if next.AccessToken == "" {
		return fail(&apperr.DecodeError{Target: "refresh response", Err: errors.New("missing access_token")})
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if err := store.SetTokens(ctx, next); err != nil {
		return fail(err)
	}
	c.inst.RecordRefresh(ctx, true)
	return next.AccessToken, nil
}

func isPublicPath(path string) bool {
	return path == pathLogin || path == pathRegister || path == pathRefresh
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
