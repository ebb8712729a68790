package pubky

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"paykit/internal/stories/catalog"
)

const maxBodySize = 1 << 20

var (
	ErrNoSession        = errors.New("no authenticated session configured")
	ErrUnauthorized     = errors.New("gateway rejected credentials")
	ErrUnexpectedStatus = errors.New("unexpected gateway status")
	ErrTooLarge         = errors.New("gateway response too large")
)

type Config struct {
	BaseURL      string
	OwnerKey     string
	SessionToken string
	Timeout      time.Duration
	RPS          float64
	Burst        int
	TLS          *tls.Config
}

// Client talks to a routing-network HTTP gateway that serves
// GET/PUT/DELETE <base>/<key><path>. It implements catalog.Reader and
// catalog.Writer; writes go to OwnerKey's storage.
type Client struct {
	baseURL string
	owner   string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.TLS != nil {
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return nil, errors.New("default transport is not *http.Transport")
		}
		transport := base.Clone()
		transport.TLSClientConfig = cfg.TLS
		httpClient.Transport = transport
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		owner:   cfg.OwnerKey,
		token:   cfg.SessionToken,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Owner is the key writes are made under.
func (c *Client) Owner() string { return c.owner }

func (c *Client) Get(ctx context.Context, addr string, scope catalog.Scope) ([]byte, error) {
	a, err := catalog.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, a.Key, a.Path, nil, nil, scope == catalog.ScopePrivate)
}

// List returns full addresses of the entries directly under prefix. The
// gateway answers with one address per line.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	a, err := catalog.ParseAddress(prefix)
	if err != nil {
		return nil, err
	}
	path := a.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	body, err := c.do(ctx, http.MethodGet, a.Key, path, url.Values{"shallow": {"true"}}, nil, false)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "pubky"):
			out = append(out, line)
		case strings.HasPrefix(line, "/"):
			out = append(out, catalog.AddressOf(a.Key, line))
		default:
			out = append(out, catalog.AddressOf(a.Key, path+line))
		}
	}
	return out, nil
}

func (c *Client) Put(ctx context.Context, path string, data []byte) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPut, c.owner, path, nil, data, true)
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodDelete, c.owner, path, nil, nil, true)
	return err
}

// Ping checks that the gateway answers. Any status below 500 counts: most
// gateways serve nothing on their root.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping gateway: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

func (c *Client) requireSession() error {
	if c.owner == "" || c.token == "" {
		return ErrNoSession
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, key, path string, query url.Values, body []byte, auth bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiting: %w", err)
	}

	target := c.baseURL + "/" + key + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%w: %s %s exceeds %d bytes", ErrTooLarge, method, path, maxBodySize)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s/%s", catalog.ErrNotFound, key, strings.TrimPrefix(path, "/"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("Gateway request completed",
			"method", method,
			"key", key,
			"path", path,
			"status", resp.StatusCode,
			"bytes", len(data))
		return data, nil
	default:
		c.logger.Warn("Gateway returned unexpected status",
			"method", method,
			"key", key,
			"path", path,
			"status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}
}
