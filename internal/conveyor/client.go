// Package conveyor notifies the physical sorting bridge (a Raspberry Pi HTTP
// server next to the bin) of accept/reject decisions. The channel is strictly
// best-effort: verification outcomes never depend on it.
package conveyor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Decision is the signal sent to the sorting mechanism.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// Signaler sends sorting decisions to the hardware bridge.
type Signaler interface {
	Send(ctx context.Context, decision Decision)
}

// Client posts decisions to the configured bridge URL. A zero URL makes it a
// logged no-op so deployments without hardware need no special casing.
type Client struct {
	httpClient *http.Client
	url        string
	logger     *zap.Logger
}

// NewClient creates a conveyor bridge client.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		logger:     logger.Named("conveyor"),
	}
}

// Send forwards the decision to the bridge. Errors are logged and swallowed.
func (c *Client) Send(ctx context.Context, decision Decision) {
	if c.url == "" {
		c.logger.Debug("conveyor bridge not configured, skipping signal",
			zap.String("decision", string(decision)))
		return
	}

	payload, err := json.Marshal(map[string]string{"result": string(decision)})
	if err != nil {
		c.logger.Error("failed to encode conveyor payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("failed to build conveyor request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("conveyor signal failed", zap.String("decision", string(decision)), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("conveyor bridge rejected signal",
			zap.String("decision", string(decision)),
			zap.Error(fmt.Errorf("status %d", resp.StatusCode)))
		return
	}

	c.logger.Info("conveyor signaled", zap.String("decision", string(decision)))
}
