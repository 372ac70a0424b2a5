// Package mnx is the transport for the records-and-chat service: it
// authenticates requests, applies per-call timeouts, retries transient
// failures and classifies everything else into domain errors.
package mnx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/resolve"
)

const (
	DefaultBaseURL = "https://www.mnexium.com"

	headerAPIKey      = "x-mnexium-key"
	headerProviderKey = "x-openai-key"

	// maxBodyBytes caps successful response bodies, which fail when
	// longer; error bodies are cut at maxErrorBodyBytes.
	maxBodyBytes      = 8 << 20
	maxErrorBodyBytes = 4096
)

// requestIDHeaders are checked in order; the first present value correlates
// the attempt with server-side logs.
var requestIDHeaders = []string{
	"X-Request-Id",
	"X-Correlation-Id",
	"Request-Id",
	"X-Amzn-Requestid",
	"Cf-Ray",
}

// CredentialSource resolves the keys sent with every request.
type CredentialSource interface {
	Credentials(ctx context.Context) (domain.Credentials, error)
}

// StaticCredentials is a CredentialSource holding fixed keys.
type StaticCredentials domain.Credentials

func (s StaticCredentials) Credentials(context.Context) (domain.Credentials, error) {
	return domain.Credentials(s), nil
}

// Timeouts bound a single attempt of each call class.
type Timeouts struct {
	Records time.Duration
	Chat    time.Duration
	Stream  time.Duration
}

// DefaultTimeouts gives model calls room for completion latency.
var DefaultTimeouts = Timeouts{
	Records: 30 * time.Second,
	Chat:    90 * time.Second,
	Stream:  180 * time.Second,
}

type callClass int

const (
	classRecords callClass = iota
	classChat
	classStream
)

func (t Timeouts) forClass(c callClass) time.Duration {
	switch c {
	case classChat:
		return t.Chat
	case classStream:
		return t.Stream
	default:
		return t.Records
	}
}

// Client talks to the service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	timeouts   Timeouts
	limiter    *rate.Limiter
	retry      RetryPolicy
	sleep      Sleeper
	jitter     func() float64
	resolver   *resolve.Resolver
	maxBody    int64

	creds    CredentialSource
	credMu   sync.Mutex
	credDone bool
	cred     domain.Credentials
	credErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeouts overrides per-attempt timeouts; zero fields keep the default.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) {
		if t.Records > 0 {
			c.timeouts.Records = t.Records
		}
		if t.Chat > 0 {
			c.timeouts.Chat = t.Chat
		}
		if t.Stream > 0 {
			c.timeouts.Stream = t.Stream
		}
	}
}

// WithRateLimit throttles outgoing attempts to rps with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithJitter replaces the source of the backoff jitter fraction in [0, 1).
func WithJitter(f func() float64) Option {
	return func(c *Client) {
		if f != nil {
			c.jitter = f
		}
	}
}

// NewClient creates a Client. Credentials are resolved on the first call.
// A usable key, or a source that answers with no key, is kept for the
// lifetime of the client; a failed lookup is retried by the next call.
func NewClient(creds CredentialSource, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, errors.New("mnx: credential source must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		logger:     slog.Default(),
		timeouts:   DefaultTimeouts,
		retry:      DefaultRetryPolicy,
		sleep:      sleepContext,
		jitter:     rand.Float64,
		creds:      creds,
		maxBody:    maxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resolver = resolve.New(c.logger)
	return c, nil
}

// Status describes whether the client holds usable credentials.
type Status struct {
	Connected bool
	Reason    string
}

// Status resolves credentials if needed and reports the outcome. A
// disconnected client fails every call locally.
func (c *Client) Status(ctx context.Context) Status {
	if _, err := c.credentials(ctx); err != nil {
		return Status{Reason: err.Error()}
	}
	return Status{Connected: true}
}

func (c *Client) credentials(ctx context.Context) (domain.Credentials, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	if c.credDone {
		return c.cred, c.credErr
	}

	cred, err := c.creds.Credentials(ctx)
	switch {
	case err != nil:
		c.logger.Warn("mnx: credential lookup failed", "err", err)
		return domain.Credentials{}, domain.InvalidInput(domain.ReasonAPIKeyMissing, err)
	case !cred.Usable():
		c.credErr = domain.InvalidInput(domain.ReasonAPIKeyMissing, nil)
		c.logger.Error("mnx: no API key configured; client disconnected")
	default:
		c.cred = cred
	}
	c.credDone = true
	return c.cred, c.credErr
}

// request is one logical call; each attempt builds its own *http.Request.
type request struct {
	method string
	path   string
	query  url.Values
	body   any
	class  callClass
}

func (c *Client) endpoint(r request) string {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	return u
}

func (c *Client) newHTTPRequest(ctx context.Context, r request, cred domain.Credentials) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return nil, domain.InvalidInput("request_not_encodable", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r), body)
	if err != nil {
		return nil, domain.InvalidInput("request_invalid", err)
	}
	req.Header.Set(headerAPIKey, cred.APIKey)
	if cred.SecondaryKey != "" {
		req.Header.Set(headerProviderKey, cred.SecondaryKey)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.class == classStream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// do runs r and returns the body of the first 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	res, cancel, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody+1))
	if err != nil {
		return nil, domain.Transport("read_body_failed", err)
	}
	if int64(len(buf)) > c.maxBody {
		c.logger.Error("mnx: response body over limit", "path", r.path, "limit_bytes", c.maxBody)
		return nil, domain.InvalidResponse("response_too_large", fmt.Errorf("body exceeds %d bytes", c.maxBody))
	}
	return buf, nil
}

// attempt performs one HTTP exchange. On success the response body is left
// open and cancel must be called once it is drained; on failure everything is
// already released.
func (c *Client) attempt(ctx context.Context, r request, cred domain.Credentials) (*http.Response, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeouts.forClass(r.class))

	req, err := c.newHTTPRequest(attemptCtx, r, cred)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, domain.Transport("request_failed", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		_ = res.Body.Close()
		cancel()
		return res, nil, domain.HTTPStatus(res.StatusCode, string(buf))
	}
	return res, cancel, nil
}

func requestID(h http.Header) string {
	for _, k := range requestIDHeaders {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) limit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Transport("rate_limit_wait", err)
	}
	return nil
}

func tablePath(table string, rest ...string) string {
	p := "/api/v1/records/" + url.PathEscape(table)
	for _, seg := range rest {
		p += "/" + url.PathEscape(seg)
	}
	return p
}
