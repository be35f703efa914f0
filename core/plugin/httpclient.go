package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 16 << 20

// HTTPOptions configures the HTTP client handed to plugins.
type HTTPOptions struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	UserAgent string
	Jar       http.CookieJar
}

// Request is an HTTP request issued from plugin code.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Body    string
	Form    map[string]string
	JSON    any
}

// Response is the buffered result of a plugin HTTP request.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
	URL     string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// JSON decodes the body as a JSON document.
func (r *Response) JSON() (any, error) {
	if r == nil {
		return nil, errors.New("nil response")
	}
	var out any
	if err := json.Unmarshal([]byte(r.Body), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HTTPClient is the network path available to one plugin: retries, a
// circuit breaker and a rate limit in front of the shared cookie jar.
type HTTPClient struct {
	retry     *retryablehttp.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPClient builds a client for the plugin called name.
func NewHTTPClient(name string, opts HTTPOptions) *HTTPClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient.Timeout = timeout
	if opts.Jar != nil {
		client.HTTPClient.Jar = opts.Jar
	}

	settings := gobreaker.Settings{
		Name:        "plugin-" + name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPClient{
		retry:     client,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: opts.UserAgent,
	}
}

// Do sends req and buffers the response.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.retry.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		out := &Response{
			Status:  resp.StatusCode,
			Headers: flattenHeader(resp.Header),
			Body:    string(body),
			URL:     resp.Request.URL.String(),
		}
		if resp.StatusCode >= 500 {
			return out, fmt.Errorf("http %d", resp.StatusCode)
		}
		return out, nil
	})
	if resp, ok := result.(*Response); ok && resp != nil {
		return resp, nil
	}
	return nil, err
}

// GetText fetches rawURL and returns the body of a 2xx response.
func (c *HTTPClient) GetText(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("fetch %s: http %d", rawURL, resp.Status)
	}
	return resp.Body, nil
}

func (c *HTTPClient) build(ctx context.Context, req Request) (*retryablehttp.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", target.Scheme)
	}
	if len(req.Params) > 0 {
		query := target.Query()
		for k, v := range req.Params {
			query.Set(k, v)
		}
		target.RawQuery = query.Encode()
	}

	var body any
	contentType := ""
	switch {
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case len(req.Form) > 0:
		form := url.Values{}
		for k, v := range req.Form {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != "":
		body = strings.NewReader(req.Body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}
