package inelnet

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mcalin/inelnet2mqtt/internal/observability"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetryCount = 2
	DefaultRetryDelay = 800 * time.Millisecond

	// Consecutive failed deliveries before the gateway is reported offline.
	offlineThreshold = 3
)

// Client delivers commands to the gateway with a bounded retry policy.
// Delivery success means the HTTP POST was acknowledged, nothing more:
// the RF link is unidirectional and the gateway never confirms motion.
type Client struct {
	http       *http.Client
	baseURL    string
	retryCount int
	retryDelay time.Duration

	metrics *observability.Metrics

	mu       sync.Mutex
	failures int
}

// NewClient builds a client for the gateway at host (with or without a
// scheme). Zero values for retryCount, retryDelay and timeout select the
// defaults.
func NewClient(host string, retryCount int, retryDelay, timeout time.Duration) *Client {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if retryCount <= 0 {
		retryCount = DefaultRetryCount
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(host, "/"),
		retryCount: retryCount,
		retryDelay: retryDelay,
	}
}

func (c *Client) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// Send attempts delivery up to the configured retry count, stopping at the
// first acknowledged attempt. The per-attempt timeout is the HTTP client
// timeout; motion itself never times out against the device.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	var lastErr error
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		err := c.post(ctx, cmd.Encode())
		if err == nil {
			c.recordSuccess()
			c.metrics.CommandSent(cmd.Action.String())
			logrus.Debugf("inelnet: channel %d %s sent", cmd.Channel, cmd.Action)
			return nil
		}

		lastErr = err
		logrus.Warnf("inelnet: channel %d %s failed (attempt %d/%d): %s", cmd.Channel, cmd.Action, attempt, c.retryCount, err)

		if attempt < c.retryCount {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				c.recordFailure()
				c.metrics.CommandFailed(cmd.Action.String())
				return errors.Wrapf(ctx.Err(), "inelnet: channel %d %s aborted", cmd.Channel, cmd.Action)
			}
		}
	}

	c.recordFailure()
	c.metrics.CommandFailed(cmd.Action.String())
	return errors.Wrapf(lastErr, "inelnet: channel %d %s failed after %d attempts", cmd.Channel, cmd.Action, c.retryCount)
}

// Ping checks plain HTTP reachability of the gateway.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "inelnet: gateway unreachable")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("inelnet: gateway responded %d", resp.StatusCode)
	}
	return nil
}

// Online reports whether recent deliveries succeeded. It says nothing
// about physical blind positions.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures < offlineThreshold
}

func (c *Client) post(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/msg.htm", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("gateway responded %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	wasOffline := c.failures >= offlineThreshold
	c.failures = 0
	c.mu.Unlock()

	c.metrics.SetGatewayOnline(true)
	if wasOffline {
		logrus.Info("inelnet: gateway is back online")
	}
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.failures++
	nowOffline := c.failures == offlineThreshold
	offline := c.failures >= offlineThreshold
	c.mu.Unlock()

	if offline {
		c.metrics.SetGatewayOnline(false)
	}
	if nowOffline {
		logrus.Warn("inelnet: gateway appears offline")
	}
}
