package scrape

import (
	"context"
	"io"
	"net/http"
	"time"

	apperrors "liscraper/pkg/errors"
	"liscraper/pkg/logger"
	"liscraper/pkg/ratelimit"
)

// maxBodySize bounds how much of a page we read. Profile and feed pages are
// well under this; anything larger is not worth archiving.
const maxBodySize = 10 << 20 // 10 MiB

// Client fetches pages through the rate-limit throttle. Every Fetch is one
// throttled operation, so client callers automatically inherit the hourly
// quota and human-paced spacing.
type Client struct {
	httpClient *http.Client
	throttle   *ratelimit.Throttle
	userAgent  string
	logger     logger.Logger
}

// NewClient creates a page fetch client. throttle is required; a nil logger
// falls back to the global one.
func NewClient(throttle *ratelimit.Throttle, userAgent string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		throttle:  throttle,
		userAgent: userAgent,
		logger:    log,
	}
}

// Fetch retrieves the page at url, waiting its turn in the throttle queue.
// It blocks until the operation has run or ctx is cancelled. Errors are
// classified (network, rate_limit, not_found, server_error) so callers can
// pick a retry policy without parsing messages.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	value, err := c.throttle.Do(ctx, func() (interface{}, error) {
		return c.fetch(url)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

func (c *Client) fetch(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrorTypeUnknown, err, "failed to create request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	c.logger.DebugWithFields("fetching page", map[string]interface{}{
		"url": url,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorWithFields("page fetch failed", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
		return nil, apperrors.Wrap(apperrors.ErrorTypeNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, url); err != nil {
		c.logger.WarnWithFields("page fetch rejected", map[string]interface{}{
			"url":    url,
			"status": resp.StatusCode,
		})
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrorTypeNetwork, err, "failed to read response body")
	}

	c.logger.DebugWithFields("page fetched", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"size":     len(body),
		"duration": time.Since(start),
	})
	return body, nil
}

// classifyStatus maps an HTTP status to a typed error, or nil for success.
func classifyStatus(code int, url string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrorTypeRateLimit, "rate limited fetching %s", url)
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperrors.New(apperrors.ErrorTypeNotFound, "page not found: %s", url)
	case apperrors.IsRetryableStatusCode(code):
		return apperrors.New(apperrors.ErrorTypeServerError, "server returned %d for %s", code, url)
	default:
		return apperrors.New(apperrors.ErrorTypeUnknown, "unexpected status %d for %s", code, url)
	}
}
