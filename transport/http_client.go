package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 4 << 10
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}

// Successful reports a 2xx status.
func (r Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends a request and keeps at most MaxResponseBodyBytes of the
// response body; longer bodies are truncated rather than rejected.
type Client struct {
	HTTP                 HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewClient(doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		HTTP:                 doer,
		DefaultHeaders:       map[string]string{"User-Agent": "go-relay"},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.HTTP == nil {
		return Response{}, transportError(
			"transport: client requires an http doer",
			goerrors.CategoryInternal,
			map[string]any{},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	target := strings.TrimSpace(req.URL)
	parsedURL, err := url.Parse(target)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			map[string]any{"url": target},
		)
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return Response{}, transportError(
			"transport: request url must be absolute http(s)",
			goerrors.CategoryBadInput,
			map[string]any{"url": target},
		)
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			map[string]any{"method": method, "url": parsedURL.String()},
		)
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	startedAt := c.now()
	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			map[string]any{"method": method, "url": parsedURL.String(), "timeout": deadlineExceeded(requestCtx)},
		)
	}
	defer httpRes.Body.Close()

	limit := resolveResponseBodyLimit(req.MaxResponseBodyBytes, c.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Truncated:  truncated,
		Duration:   c.now().Sub(startedAt),
	}, nil
}

func (c *Client) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func deadlineExceeded(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, clientLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if clientLimit > 0 {
		return clientLimit
	}
	return defaultResponseBodyLimit
}
