package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"propvest/internal/platform/config"
)

// ErrCircuitOpen is returned when admission control rejects a request
// before any network I/O. Callers can errors.Is against it to degrade
// gracefully instead of treating it as a backend failure.
var ErrCircuitOpen = errors.New("circuit open")

// RequestError is a terminal transport/HTTP failure carrying the last
// response status and message.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// ServiceNamer maps a request URL to the logical service name used for
// breaker scoping.
type ServiceNamer func(u *url.URL) string

// DefaultServiceNamer uses the first path segment, falling back to the host
// for bare URLs.
func DefaultServiceNamer(u *url.URL) string {
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return u.Host
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// Options tunes a single request.
type Options struct {
	Timeout           time.Duration
	Retries           int // overrides the client default when > 0
	RetryableStatuses []int
	Headers           map[string]string
	Out               interface{} // JSON decode target when the response is application/json
}

// Response is a parsed upstream response.
type Response struct {
	Status      int
	Header      http.Header
	Body        []byte
	ContentType string
}

func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

func (r *Response) Text() string {
	return string(r.Body)
}

var defaultRetryable = []int{http.StatusRequestTimeout, http.StatusTooManyRequests,
	http.StatusInternalServerError, http.StatusBadGateway,
	http.StatusServiceUnavailable, http.StatusGatewayTimeout}

// Client wraps outbound calls with the circuit breaker, retries with
// jittered exponential backoff, and per-attempt timeouts. A client holds a
// single cancellation handle: issuing a new call through the same instance
// aborts any call still in flight on it. Callers that need isolated calls
// use separate instances.
type Client struct {
	http     *http.Client
	breaker  *Breaker
	namer    ServiceNamer
	retries  int
	minDelay time.Duration
	maxDelay time.Duration
	factor   float64
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewClient(breaker *Breaker, cfg config.ResilienceConfig) *Client {
	return &Client{
		http:     &http.Client{},
		breaker:  breaker,
		namer:    DefaultServiceNamer,
		retries:  cfg.MaxRetries,
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		factor:   cfg.BackoffFactor,
		timeout:  cfg.RequestTimeout,
	}
}

// WithServiceNamer swaps the breaker-scoping strategy.
func (c *Client) WithServiceNamer(namer ServiceNamer) *Client {
	c.namer = namer
	return c
}

func (c *Client) Get(ctx context.Context, rawurl string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawurl, nil, opts)
}

func (c *Client) Post(ctx context.Context, rawurl string, body interface{}, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawurl, body, opts)
}

func (c *Client) Put(ctx context.Context, rawurl string, body interface{}, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodPut, rawurl, body, opts)
}

func (c *Client) Patch(ctx context.Context, rawurl string, body interface{}, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodPatch, rawurl, body, opts)
}

func (c *Client) Delete(ctx context.Context, rawurl string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodDelete, rawurl, nil, opts)
}

// Cancel aborts the call currently in flight on this client, if any.
// A cancelled call never counts against the breaker.
func (c *Client) Cancel() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

// ResetBreaker clears all breaker state. Operational control for manual
// recovery.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

func (c *Client) do(ctx context.Context, method, rawurl string, body interface{}, opts *Options) (*Response, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	service := c.namer(u)

	if c.breaker.IsOpen(service) {
		return nil, fmt.Errorf("%w: service %s", ErrCircuitOpen, service)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	// Latest call wins: starting this call cancels any in-flight call on
	// the same instance.
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	callCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	retries := c.retries
	timeout := c.timeout
	retryable := defaultRetryable
	if opts != nil {
		if opts.Retries > 0 {
			retries = opts.Retries
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if len(opts.RetryableStatuses) > 0 {
			retryable = opts.RetryableStatuses
		}
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(callCtx, c.Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(callCtx, method, rawurl, payload, timeout, opts)
		if err != nil {
			// Caller-initiated aborts are not evidence the service is
			// unhealthy; surface them without touching the breaker.
			if callCtx.Err() != nil {
				return nil, callCtx.Err()
			}
			lastErr = err
			continue
		}

		if resp.Status >= 200 && resp.Status < 300 {
			c.breaker.RecordSuccess(service)
			if err := parseInto(resp, opts); err != nil {
				return resp, err
			}
			return resp, nil
		}

		lastErr = &RequestError{Status: resp.Status, Message: responseMessage(resp)}
		if !statusIn(resp.Status, retryable) {
			break
		}
	}

	c.breaker.RecordFailure(service, lastErr)
	log.Warn().Str("service", service).Str("url", rawurl).Err(lastErr).Msg("request failed after retries")
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, rawurl string, payload []byte, timeout time.Duration, opts *Options) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:      resp.StatusCode,
		Header:      resp.Header,
		Body:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Backoff returns the delay before retrying after the given zero-based
// attempt: min(maxDelay, minDelay*factor^attempt), widened by symmetric
// jitter of up to 30% of that value so retry storms don't synchronize.
func (c *Client) Backoff(attempt int) time.Duration {
	base := float64(c.minDelay) * math.Pow(c.factor, float64(attempt))
	if base > float64(c.maxDelay) {
		base = float64(c.maxDelay)
	}

	window := base * 0.3
	delay := base - window/2 + rand.Float64()*window
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseInto decodes the body into opts.Out when the upstream responded
// with JSON. Text and binary responses stay raw on the Response.
func parseInto(resp *Response, opts *Options) error {
	if opts == nil || opts.Out == nil {
		return nil
	}
	if strings.HasPrefix(resp.ContentType, "application/json") {
		return json.Unmarshal(resp.Body, opts.Out)
	}
	return nil
}

func responseMessage(resp *Response) string {
	body := strings.TrimSpace(string(resp.Body))
	if body != "" {
		if len(body) > 512 {
			body = body[:512]
		}
		return body
	}
	return http.StatusText(resp.Status)
}

func statusIn(status int, set []int) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
