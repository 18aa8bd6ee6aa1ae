package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"coral-agents/internal/domain"
)

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 10 * 1024 * 1024

// HTTPConfig sizes a pooled client.
type HTTPConfig struct {
	ConnTimeout         time.Duration `yaml:"conn_timeout"`
	RespTimeout         time.Duration `yaml:"resp_timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = 30 * time.Second
	}
	if c.RespTimeout <= 0 {
		c.RespTimeout = 120 * time.Second
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 20
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 20
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 120 * time.Second
	}
	return c
}

// NewPooledTransport creates an http.Transport with connection pooling.
func NewPooledTransport(cfg HTTPConfig) *http.Transport {
	cfg = cfg.withDefaults()
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RespTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient returns a pooled client whose total timeout is the sum of the
// connect and response timeouts.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	cfg = cfg.withDefaults()
	return &http.Client{
		Transport: NewPooledTransport(cfg),
		Timeout:   cfg.ConnTimeout + cfg.RespTimeout,
	}
}

// NewStreamClient returns a pooled client without an overall timeout, for
// long-lived event streams.
func NewStreamClient(cfg HTTPConfig) *http.Client {
	return &http.Client{Transport: NewPooledTransport(cfg)}
}

// HTTPError is a non-2xx response. It unwraps to a domain sentinel.
type HTTPError struct {
	Status int
	Body   string
	kind   error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

func (e *HTTPError) Unwrap() error { return e.kind }

// ClientError reports whether err is a 4xx response other than 429.
func ClientError(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests
}

// MapHTTPError maps a status code and body to an *HTTPError carrying the
// matching domain sentinel.
func MapHTTPError(status int, body []byte) error {
	he := &HTTPError{Status: status, Body: truncate(string(body), 512)}
	switch {
	case status == http.StatusTooManyRequests:
		he.kind = domain.ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		he.kind = domain.ErrAuthInvalid
	case status == http.StatusNotFound:
		he.kind = domain.ErrNotFound
	case status >= 400 && status < 500:
		he.kind = domain.ErrInvalidInput
	default:
		he.kind = domain.ErrProviderError
	}
	return he
}

// DoJSON sends payload (if non-nil) as JSON and returns the response body of
// a 2xx answer. Other statuses return an *HTTPError.
func DoJSON(ctx context.Context, client *http.Client, method, url string, payload any, headers map[string]string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, MapHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
