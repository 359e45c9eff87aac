package submission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/rpattn/loadflow/internal/apperr"
)

const (
	DefaultLoadPath    = "/loads"
	DefaultConcurrency = 8
	minRetryDelay      = time.Millisecond
)

// Options configures the load API client.
type Options struct {
	BaseURL       string
	LoadIDBaseURL string
	BrokerageKey  string
	Token         string
	APIKey        string
	LoadPath      string
	Timeout       time.Duration
	RetryCount    int
	RetryDelay    time.Duration
	Concurrency   int
}

// Option mutates the client after construction.
type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc)
		c.configure()
	}
}

// Client talks to the load-management API. One client is shared by the
// submission and load-id stages of a run.
type Client struct {
	http *resty.Client
	opts Options
}

// NewClient builds a client; BaseURL may be empty when only load-id
// lookups are needed.
func NewClient(opts Options, options ...Option) *Client {
	if opts.LoadPath == "" {
		opts.LoadPath = DefaultLoadPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	c := &Client{http: resty.New(), opts: opts}
	c.configure()
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Client) configure() {
	c.http.
		SetTimeout(c.opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if c.opts.BaseURL != "" {
		c.http.SetBaseURL(c.opts.BaseURL)
	}
	if c.opts.Token != "" {
		c.http.SetAuthToken(c.opts.Token)
	}
	if c.opts.APIKey != "" {
		c.http.SetHeader("X-API-Key", c.opts.APIKey)
	}
}

// Options returns the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// Ping checks that the API base URL answers at all. Any HTTP response
// counts as reachable; only transport failures are structural.
func (c *Client) Ping(ctx context.Context) error {
	if c.opts.BaseURL == "" {
		return fmt.Errorf("%w: api base url is not configured", apperr.ErrStructural)
	}
	if _, err := c.http.R().SetContext(ctx).Head("/"); err != nil {
		return fmt.Errorf("%w: api base url %s unreachable: %v", apperr.ErrStructural, c.opts.BaseURL, err)
	}
	return nil
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, body)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// do runs call under the configured constant-delay retry policy. Transport
// errors, 5xx, 408 and 429 are retried; other responses are final.
func (c *Client) do(ctx context.Context, call func(ctx context.Context) (*resty.Response, error)) (*resty.Response, int, error) {
	delay := c.opts.RetryDelay
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	backoff := retry.WithMaxRetries(uint64(c.opts.RetryCount), retry.NewConstant(delay))

	attempts := 0
	var last *resty.Response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		resp, err := call(ctx)
		last = resp
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		if resp.IsSuccess() {
			return nil
		}
		statusErr := &StatusError{Status: resp.StatusCode(), Body: resp.String()}
		if retryableStatus(resp.StatusCode()) {
			return retry.RetryableError(statusErr)
		}
		return statusErr
	})
	return last, attempts, err
}
