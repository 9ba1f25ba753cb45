package product

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxLookupAttempts = 3

// Client fetches product metadata from the Open Food Facts API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a new Open Food Facts client. The rate limiter keeps the
// service a polite consumer of the public API.
func NewClient(baseURL string, timeout time.Duration, requestsPerSec float64, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 10
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSec), 10),
		logger:      logger.Named("product_client"),
	}
}

// Lookup fetches the product record for a barcode. A barcode unknown to the
// database yields ErrNotFound; network failures and malformed payloads yield
// ErrUnavailable.
func (c *Client) Lookup(ctx context.Context, barcode string) (*Record, error) {
	reqURL := fmt.Sprintf("%s/api/v2/product/%s.json", c.baseURL, barcode)

	var lastErr error
	for attempt := 1; attempt <= maxLookupAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		record, retryable, err := c.fetch(ctx, reqURL, barcode)
		if err == nil {
			return record, nil
		}
		if !retryable {
			return nil, err
		}

		c.logger.Warn("product lookup attempt failed",
			zap.String("barcode", barcode),
			zap.Int("attempt", attempt),
			zap.Error(err))
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context, reqURL, barcode string) (*Record, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", "recircle/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Open Food Facts answers 404 with a well-formed "product not found"
	// body; both shapes mean the same terminal outcome.
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= http.StatusInternalServerError
		return nil, retryable, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var envelope offEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if envelope.Status != 1 {
		return nil, false, ErrNotFound
	}

	return newRecord(barcode, envelope.Product), false, nil
}
