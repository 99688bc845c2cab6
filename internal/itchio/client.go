// Package itchio provides a client for the itch.io API.
package itchio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.itch.io"

// Retry defaults for 429 responses. Attempt n waits base + n*step.
const (
	defaultRetryBase  = 1 * time.Second
	defaultRetryStep  = 2 * time.Second
	defaultMaxRetries = 3
)

// errTooManyRequests marks a 429 response inside the retry loop. It is
// the only error the loop retries on.
var errTooManyRequests = errors.New("too many requests")

// Client talks to the itch.io API with bearer authentication.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// RetryBase and RetryStep tune the wait before retry attempt n:
	// base + n*step, so consecutive waits strictly increase.
	RetryBase  time.Duration
	RetryStep  time.Duration
	MaxRetries uint64

	// Pace, when non-zero, is slept before every uploads-listing and
	// download request as a proactive guard against rate limiting.
	// The owned-keys listing is not paced.
	Pace time.Duration
}

// New creates a client. baseURL falls back to DefaultBaseURL and logger
// to slog.Default() when empty.
func New(apiKey, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
		RetryBase:  defaultRetryBase,
		RetryStep:  defaultRetryStep,
		MaxRetries: defaultMaxRetries,
	}
}

// rampBackOff waits base + n*step before attempt n. Unlike the standard
// exponential policy it matches the API's documented cool-down advice.
type rampBackOff struct {
	base, step time.Duration
	attempt    int64
}

func (b *rampBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base + time.Duration(b.attempt)*b.step
}

func (b *rampBackOff) Reset() { b.attempt = 0 }

// retry runs op, retrying only on errTooManyRequests. All other errors
// must be wrapped in backoff.Permanent by op.
func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	policy := backoff.WithMaxRetries(&rampBackOff{base: c.RetryBase, step: c.RetryStep}, c.MaxRetries)
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if errors.Is(err, errTooManyRequests) {
		return fmt.Errorf("%w after %d retries", ErrRateLimited, c.MaxRetries)
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// getJSON fetches url and decodes the body into out, classifying the
// outcome: 2xx parsed, 429 retried, any other status surfaces an
// *APIError with the body text verbatim.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	op := func() error {
		req, err := c.newRequest(ctx, url)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("send request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("rate limited, backing off", "url", url)
			return errTooManyRequests
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read response: %w", err))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(&APIError{Status: resp.StatusCode, Body: string(body)})
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return nil
	}

	return c.retry(ctx, op)
}

// pace sleeps the configured pre-request delay, if any.
func (c *Client) pace() {
	if c.Pace > 0 {
		time.Sleep(c.Pace)
	}
}

// ListOwnedKeysPage fetches one page of the owned-keys listing. Pages
// start at 1.
func (c *Client) ListOwnedKeysPage(ctx context.Context, page int64) (OwnedKeysPage, error) {
	url := fmt.Sprintf("%s/profile/owned-keys?page=%d", c.baseURL, page)
	var out OwnedKeysPage
	err := c.getJSON(ctx, url, &out)
	return out, err
}

// ListOwnedKeys walks the owned-keys listing from page 1 and returns
// every key. A page returning fewer keys than its declared per_page is
// the last one; that is the only stop signal, so an exactly-full final
// page costs one extra short request. Any page failure aborts the
// whole listing.
func (c *Client) ListOwnedKeys(ctx context.Context) ([]OwnedKey, error) {
	var all []OwnedKey
	for page := int64(1); ; page++ {
		c.logger.Info("fetching owned keys", "page", page)

		resp, err := c.ListOwnedKeysPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list owned keys page %d: %w", page, err)
		}

		all = append(all, resp.OwnedKeys...)

		if int64(len(resp.OwnedKeys)) < resp.PerPage {
			c.logger.Info("owned keys fetched", "total", len(all), "pages", page)
			return all, nil
		}
	}
}

// GameUploads lists the uploads available for a game under a download
// key.
func (c *Client) GameUploads(ctx context.Context, gameID, keyID int64) ([]Upload, error) {
	c.pace()

	url := fmt.Sprintf("%s/games/%d/uploads?download_key_id=%d", c.baseURL, gameID, keyID)
	var out uploadsResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out.Uploads, nil
}

// OpenUpload starts downloading an upload's bytes. It returns the
// response body stream and the declared content length (0 when the
// server does not declare one). The caller must close the stream.
func (c *Client) OpenUpload(ctx context.Context, uploadID, keyID int64) (io.ReadCloser, int64, error) {
	c.pace()

	url := fmt.Sprintf("%s/uploads/%d/download?download_key_id=%d", c.baseURL, uploadID, keyID)

	var (
		stream io.ReadCloser
		length int64
	)
	op := func() error {
		req, err := c.newRequest(ctx, url)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("send download request: %w", err))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			c.logger.Warn("rate limited, backing off", "url", url)
			return errTooManyRequests
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return backoff.Permanent(&APIError{Status: resp.StatusCode, Body: string(body)})
		}

		stream = resp.Body
		length = resp.ContentLength
		return nil
	}

	if err := c.retry(ctx, op); err != nil {
		return nil, 0, err
	}
	if length < 0 {
		length = 0
	}
	return stream, length, nil
}
