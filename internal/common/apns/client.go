package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "capsule-notifier/internal/common/errors"
	commonhttp "capsule-notifier/internal/common/http"
	"capsule-notifier/internal/common/metrics"
)

const (
	ProductionHost = "https://api.push.apple.com"
	SandboxHost    = "https://api.sandbox.push.apple.com"

	PushTypeAlert = "alert"
	PriorityNow   = "10"
)

// TokenSource supplies the provider token for each request.
type TokenSource interface {
	Token(ctx context.Context) (SignedToken, error)
}

// invalidator is implemented by token sources that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

type ClientConfig struct {
	BundleID   string
	Production bool
	// Endpoint overrides the host picked by Production.
	Endpoint string
	Timeout  time.Duration
}

// Host returns the gateway base URL for this configuration.
func (c ClientConfig) Host() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	if c.Production {
		return ProductionHost
	}
	return SandboxHost
}

// Response is the gateway's answer to an accepted push.
type Response struct {
	StatusCode int
	APNsID     string
}

// Client delivers alert notifications over HTTP/2.
type Client struct {
	http   *commonhttp.Client
	tokens TokenSource
	host   string
	topic  string
}

func NewClient(cfg ClientConfig, tokens TokenSource) *Client {
	return NewClientWithHTTP(cfg, tokens, commonhttp.NewClient(cfg.Timeout))
}

func NewClientWithHTTP(cfg ClientConfig, tokens TokenSource, httpClient *commonhttp.Client) *Client {
	return &Client{
		http:   httpClient,
		tokens: tokens,
		host:   cfg.Host(),
		topic:  cfg.BundleID,
	}
}

// Host is the gateway base URL requests are sent to.
func (c *Client) Host() string {
	return c.host
}

// Send pushes n to deviceToken. A non-2xx answer is returned as a
// PUSH_REJECTED error carrying the status and the gateway's reason; network
// failures and timeouts are PUSH_TRANSPORT_FAILED. Token errors are passed
// through unchanged.
func (c *Client) Send(ctx context.Context, deviceToken string, n Notification) (*Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.host+"/3/device/"+url.PathEscape(deviceToken), bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewPushTransportFailedError(err)
	}
	req.Header.Set("authorization", "bearer "+token.Value)
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", PushTypeAlert)
	req.Header.Set("apns-priority", PriorityNow)
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := c.http.DoWithContext(ctx, req)
	metrics.PushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, apperrors.NewPushTransportFailedError(err)
	}
	defer resp.Body.Close()

	apnsID := resp.Header.Get("apns-id")
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &Response{StatusCode: resp.StatusCode, APNsID: apnsID}, nil
	}

	reason := readReason(resp.Body)
	if resp.StatusCode == http.StatusForbidden && isTokenReason(reason) {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}
	return nil, apperrors.NewPushRejectedError(resp.StatusCode, reason, apnsID)
}

func readReason(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Reason != "" {
		return body.Reason
	}
	return strings.TrimSpace(string(raw))
}

func isTokenReason(reason string) bool {
	switch reason {
	case "ExpiredProviderToken", "InvalidProviderToken":
		return true
	}
	return false
}
