package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

var httpRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_http_retries_total",
		Help: "Total number of retried storefront HTTP requests",
	},
	[]string{"method", "reason"},
)

// Config holds HTTP client configuration
type Config struct {
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// RetryBase is the wait before the first retry; each further retry doubles it.
	RetryBase time.Duration
	// RetryWaitMax caps a single backoff wait. Zero means no cap.
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
	// FollowRedirects lets the client chase 3xx responses. The storefront
	// client keeps it off so a 302 to the login page stays visible.
	FollowRedirects bool
	Jar             http.CookieJar
}

// DefaultConfig returns the storefront defaults: 5s timeout, 2 retries,
// 1s/2s backoff, redirects not followed.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		RetryBase:       time.Second,
		MaxConnsPerHost: 16,
	}
}

// Client wraps http.Client with retry logic and better defaults
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *slog.Logger
}

// New creates a new HTTP client with retry and connection pooling
func New(cfg Config, logger *slog.Logger) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	hc := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		Jar:       cfg.Jar,
	}
	if !cfg.FollowRedirects {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Client{
		httpClient: hc,
		config:     cfg,
		logger:     logger,
	}
}

// Backoff returns the wait before retry number attempt (1-based):
// RetryBase * 2^(attempt-1), capped by RetryWaitMax.
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	wait := c.config.RetryBase * time.Duration(1<<uint(attempt-1))
	if c.config.RetryWaitMax > 0 && wait > c.config.RetryWaitMax {
		wait = c.config.RetryWaitMax
	}
	return wait
}

// Do executes the request, retrying network failures and 5xx responses.
// A final network failure is returned as *errors.NetworkError. A final 5xx
// response is returned as-is for the caller to classify.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	op := req.Method + " " + req.URL.Path

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.Backoff(attempt)
			c.logger.DebugContext(ctx, "retrying storefront request",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
			)

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, fmt.Errorf("rewind request body: %w", bodyErr)
				}
				req.Body = body
			}
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isRetryableError(err) && attempt < c.config.MaxRetries {
				httpRetriesTotal.WithLabelValues(req.Method, "network").Inc()
				continue
			}
			return nil, &apperrors.NetworkError{Op: op, Err: fmt.Errorf("after %d attempts: %w", attempt+1, err)}
		}

		if resp.StatusCode >= 500 && attempt < c.config.MaxRetries {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			httpRetriesTotal.WithLabelValues(req.Method, "server").Inc()
			continue
		}

		return resp, nil
	}

	return resp, err
}

// Get performs HTTP GET request with retry
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post performs HTTP POST request with retry
func (c *Client) Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// isRetryableError reports whether a transport-level failure is worth another
// attempt. Anything that is not a context cancellation counts as a network
// failure, matching how a browser fetch rejects.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var netErr net.Error
		// Client.Timeout surfaces as a net.Error with Timeout() == true.
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	return true
}
