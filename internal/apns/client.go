// Package apns sends alert pushes over the Apple Push Notification
// service HTTP/2 provider API.
package apns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
)

// Provider API hosts.
const (
	hostDevelopment = "https://api.sandbox.push.apple.com"
	hostProduction  = "https://api.push.apple.com"
)

const maxCollapseIDBytes = 64

// Errors classifying a rejected push. Anything not matched by these is
// transient and may be retried.
var (
	// ErrBadDeviceToken means the token is dead and its registration
	// should be removed.
	ErrBadDeviceToken = errors.New("bad device token")
	// ErrRejected means the push service permanently refused this
	// notification.
	ErrRejected = errors.New("notification rejected")
)

// Notification is one push to deliver.
type Notification struct {
	DeviceToken string
	EventID     string
	CreatedAt   int64
	Payload     []byte
}

// Config carries the credentials and routing for a Client.
type Config struct {
	KeyPath     string
	KeyID       string
	TeamID      string
	Topic       string
	Environment string
}

// Client talks to the push service. It is safe for concurrent use.
type Client struct {
	log    *slog.Logger
	http   *http.Client
	host   string
	topic  string
	tokens *tokenSource
}

// NewClient builds a push client from the given credentials.
func NewClient(log *slog.Logger, cfg Config) (*Client, error) {
	tokens, err := newTokenSource(cfg.KeyPath, cfg.KeyID, cfg.TeamID)
	if err != nil {
		return nil, err
	}

	host := hostDevelopment
	if cfg.Environment == "production" {
		host = hostProduction
	}

	return &Client{
		log:    log,
		http:   &http.Client{Transport: &http2.Transport{}},
		host:   host,
		topic:  cfg.Topic,
		tokens: tokens,
	}, nil
}

// Send delivers one notification. The returned error is nil on
// success, ErrBadDeviceToken or ErrRejected on permanent rejection,
// and any other error on transient failure.
func (c *Client) Send(ctx context.Context, n Notification) error {
	bearer, err := c.tokens.bearer()
	if err != nil {
		return err
	}

	url := c.host + "/3/device/" + n.DeviceToken
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(n.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "5")
	req.Header.Set("apns-expiration", strconv.FormatInt(n.CreatedAt+int64((24*time.Hour).Seconds()), 10))
	req.Header.Set("apns-collapse-id", collapseID(n.EventID))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return classify(resp.StatusCode, readReason(resp.Body))
}

// classify maps a push service response to the error taxonomy. A nil
// return means the notification was accepted.
func classify(status int, reason string) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusGone,
		reason == "BadDeviceToken", reason == "Unregistered", reason == "ExpiredToken":
		return fmt.Errorf("%w: %s", ErrBadDeviceToken, reason)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d, reason %s", ErrRejected, status, reason)
	default:
		return fmt.Errorf("push service returned status %d, reason %s", status, reason)
	}
}

func collapseID(eventID string) string {
	if len(eventID) > maxCollapseIDBytes {
		return eventID[:maxCollapseIDBytes]
	}
	return eventID
}

func readReason(body io.Reader) string {
	var parsed struct {
		Reason string `json:"reason"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	return parsed.Reason
}
