package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/leapstack-labs/fmdata/pkg/core"
)

// Transport sends one Data API request and returns the raw response body.
// Implementations return the body even for HTTP error statuses, since the
// Data API delivers its message envelope on those too; an error return means
// the request never produced a usable body.
type Transport interface {
	Send(ctx context.Context, method, path string, header http.Header, body io.Reader) ([]byte, error)
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// HTTPTransport talks to a FileMaker Server over HTTPS.
type HTTPTransport struct {
	base    *url.URL
	client  *http.Client
	logger  *slog.Logger
	retries uint64
	backoff time.Duration
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*transportConfig)

type transportConfig struct {
	client         *http.Client
	connectTimeout time.Duration
	readTimeout    time.Duration
	insecure       bool
	logger         *slog.Logger
	retries        uint64
	backoff        time.Duration
}

// WithHTTPClient supplies a fully configured http.Client, overriding the
// timeout and TLS options.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(cfg *transportConfig) { cfg.client = c }
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) TransportOption {
	return func(cfg *transportConfig) { cfg.connectTimeout = d }
}

// WithReadTimeout bounds the whole request, connection included.
func WithReadTimeout(d time.Duration) TransportOption {
	return func(cfg *transportConfig) { cfg.readTimeout = d }
}

// WithInsecureSkipVerify disables TLS certificate verification, for servers
// running self-signed certificates.
func WithInsecureSkipVerify() TransportOption {
	return func(cfg *transportConfig) { cfg.insecure = true }
}

// WithTransportLogger attaches a logger for request-level debug output.
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(cfg *transportConfig) { cfg.logger = l }
}

// WithRetries retries idempotent GET requests up to n times with exponential
// backoff when the request fails at the network level. Non-GET requests are
// never retried.
func WithRetries(n uint64, base time.Duration) TransportOption {
	return func(cfg *transportConfig) {
		cfg.retries = n
		cfg.backoff = base
	}
}

// NewHTTPTransport builds a transport for the server at baseURL
// (e.g. "https://fms.example.com").
func NewHTTPTransport(baseURL string, opts ...TransportOption) (*HTTPTransport, error) {
	cfg := transportConfig{
		connectTimeout: defaultConnectTimeout,
		readTimeout:    defaultReadTimeout,
		backoff:        100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q needs a scheme and host", baseURL)
	}

	httpClient := cfg.client
	if httpClient == nil {
		dialer := &net.Dialer{Timeout: cfg.connectTimeout}
		inner := &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: cfg.connectTimeout,
			MaxIdleConnsPerHost: 4,
		}
		if cfg.insecure {
			inner.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{
			Transport: inner,
			Timeout:   cfg.readTimeout,
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &HTTPTransport{
		base:    base,
		client:  httpClient,
		logger:  logger,
		retries: cfg.retries,
		backoff: cfg.backoff,
	}, nil
}

// Send issues one request. The response body comes back regardless of the
// HTTP status so the caller can decode the message envelope; only transport
// failures return an error.
func (t *HTTPTransport) Send(ctx context.Context, method, path string, header http.Header, body io.Reader) ([]byte, error) {
	// An io.Reader body cannot be replayed across attempts, so a request
	// that carries one is sent exactly once even when retries are on.
	if t.retries == 0 || method != http.MethodGet || body != nil {
		return t.send(ctx, method, path, header, body)
	}

	var out []byte
	b := retry.WithMaxRetries(t.retries, retry.NewExponential(t.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		raw, err := t.send(ctx, method, path, header, nil)
		if err != nil {
			t.logger.Debug("retrying request", "method", method, "path", path, "error", err)
			return retry.RetryableError(err)
		}
		out = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *HTTPTransport) send(ctx context.Context, method, path string, header http.Header, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.base.String()+path, body)
	if err != nil {
		return nil, &core.TransportError{Op: method + " " + path, Err: err}
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.TransportError{Op: method + " " + path, Err: err}
	}

	t.logger.Debug("request done",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed", time.Since(start))

	return raw, nil
}
