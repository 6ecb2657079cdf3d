// Package feed downloads the published grade sheet.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/boletin/backend/pkg/circuitbreaker"
	"github.com/boletin/backend/pkg/logger"
	"github.com/boletin/backend/pkg/retry"
)

const maxBodyBytes = 32 << 20

var (
	ErrNoURL            = errors.New("feed url is not configured")
	ErrInvalidURL       = errors.New("invalid feed url")
	ErrBodyTooLarge     = errors.New("feed body exceeds size limit")
	ErrUnexpectedStatus = errors.New("unexpected feed status")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed returned HTTP %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Document is one downloaded copy of the sheet.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

type Config struct {
	URL             string
	Timeout         time.Duration
	MaxAttempts     int
	CacheBust       bool
	BreakerFailures int
	HTTPClient      *http.Client
}

type Client struct {
	url         string
	cacheBust   bool
	httpClient  *http.Client
	breaker     *circuitbreaker.Breaker
	retryConfig retry.Config
	now         func() time.Time
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = cfg.MaxAttempts
	retryConfig.ShouldRetry = Retryable
	retryConfig.Logger = logger.GetLogger()

	return &Client{
		url:        cfg.URL,
		cacheBust:  cfg.CacheBust,
		httpClient: httpClient,
		breaker: circuitbreaker.New("feed", circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			OpenTimeout:      time.Minute,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retryConfig,
		now:         time.Now,
	}
}

func (c *Client) Source() string {
	return c.url
}

func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// Fetch downloads the sheet, retrying transport errors and 5xx responses.
func (c *Client) Fetch(ctx context.Context) (*Document, error) {
	if c.url == "" {
		return nil, ErrNoURL
	}

	return retry.DoWithResult(ctx, c.retryConfig, func(ctx context.Context) (*Document, error) {
		var doc *Document
		err := c.breaker.Execute(func() error {
			var err error
			doc, err = c.fetchOnce(ctx)
			return err
		})
		return doc, err
	})
}

func (c *Client) fetchOnce(ctx context.Context) (*Document, error) {
	target, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/html;q=0.9, */*;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	logger.Debug("Feed fetched",
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", c.now().Sub(start)),
	)

	return &Document{
		URL:         c.url,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   c.now(),
	}, nil
}

// requestURL appends a t=<unix millis> parameter so caches in front of the
// published sheet never serve a stale copy.
func (c *Client) requestURL() (string, error) {
	if !c.cacheBust {
		return c.url, nil
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Retryable treats 5xx and 429 responses and transport failures as
// transient. An open breaker is not retried.
func Retryable(err error) bool {
	if errors.Is(err, circuitbreaker.ErrOpen) ||
		errors.Is(err, ErrBodyTooLarge) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	return true
}
