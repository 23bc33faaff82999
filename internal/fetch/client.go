// Package fetch is the HTTP client shared by the scraping collaborators.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"migrate/internal/services"
	"migrate/internal/stage"
)

// HTTPDoer describes the HTTP client used for scraping.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues GET and HEAD requests with a fixed user agent.
type Client struct {
	doer      HTTPDoer
	userAgent string
}

// New builds a client with its own http.Client and timeout.
func New(userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewWithDoer(&http.Client{Timeout: timeout}, userAgent)
}

// NewWithDoer wraps an existing HTTPDoer.
func NewWithDoer(doer HTTPDoer, userAgent string) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{doer: doer, userAgent: strings.TrimSpace(userAgent)}
}

// Get fetches rawURL and returns the open response. Non-2xx statuses are
// returned as errors and the body is closed.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL)
}

// Size returns the Content-Length reported by a HEAD request, or -1 when the
// server does not report one.
func (c *Client) Size(ctx context.Context, rawURL string) (int64, error) {
	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return -1, err
	}
	resp.Body.Close()
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	if header := resp.Header.Get("Content-Length"); header != "" {
		if n, err := strconv.ParseInt(header, 10, 64); err == nil {
			return n, nil
		}
	}
	return -1, nil
}

// ReadAll fetches rawURL and returns its body, reading at most limit bytes
// when limit is positive.
func (c *Client) ReadAll(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "read body", rawURL, err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, services.Wrap(services.ErrTooLarge, "fetch", "read body", fmt.Sprintf("%s exceeds %d bytes", rawURL, limit), nil)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "fetch", "build request", rawURL, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, services.Wrap(services.ErrTimeout, "fetch", strings.ToLower(method), rawURL, err)
		}
		return nil, services.Wrap(services.ErrTransient, "fetch", strings.ToLower(method), rawURL, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, statusError(method, rawURL, resp.StatusCode)
	}
	return resp, nil
}

func statusError(method, rawURL string, status int) error {
	message := fmt.Sprintf("%s returned %d", rawURL, status)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return services.Wrap(services.ErrNotFound, "fetch", strings.ToLower(method), message, nil)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "fetch", strings.ToLower(method), message, nil)
	default:
		return services.Wrap(services.ErrExternal, "fetch", strings.ToLower(method), message, nil)
	}
}

// SiteCheck reports whether a site answers a HEAD request.
type SiteCheck struct {
	Client *Client
	URL    string
}

// HealthCheck implements stage.HealthChecker.
func (s SiteCheck) HealthCheck(ctx context.Context) stage.Health {
	const name = "Source site"
	if strings.TrimSpace(s.URL) == "" {
		return stage.Unhealthy(name, "no url configured")
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.Client.Size(checkCtx, s.URL); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("%s (%v)", s.URL, err))
	}
	health := stage.Healthy(name)
	health.Detail = s.URL + " reachable"
	return health
}
