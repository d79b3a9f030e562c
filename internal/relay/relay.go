// Package relay queries upstream Nostr relays for replaceable events
// such as mute lists and contact lists.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"notepush/internal/nostr"
)

// Querier fetches the latest replaceable event of a kind for an
// author. A nil event with a nil error means the relay has none.
type Querier interface {
	FetchLatestByKind(ctx context.Context, pubkey string, kind int) (*nostr.Event, error)
}

// Client dials the configured relay once per query. Connections are
// not pooled; list fetches are rare enough that the cache in front of
// this client absorbs the cost.
type Client struct {
	log     *slog.Logger
	url     string
	timeout time.Duration
}

// NewClient builds a client for the relay at url.
func NewClient(log *slog.Logger, url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{log: log, url: url, timeout: timeout}
}

// FetchLatestByKind requests the newest event of the given kind
// authored by pubkey. Dial failures are retried with backoff inside
// the query timeout.
func (c *Client) FetchLatestByKind(ctx context.Context, pubkey string, kind int) (*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var event *nostr.Event
	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ev, err := c.fetchOnce(ctx, pubkey, kind)
		if err != nil {
			return retry.RetryableError(err)
		}
		event = ev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch kind %d for %s: %w", kind, pubkey, err)
	}
	return event, nil
}

func (c *Client) fetchOnce(ctx context.Context, pubkey string, kind int) (*nostr.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	subID := uuid.NewString()
	req, err := nostr.ReqFrame(subID, nostr.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{kind},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, fmt.Errorf("send subscription: %w", err)
	}

	var event *nostr.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read relay frame: %w", err)
		}
		msg, err := nostr.ParseRelayMessage(data)
		if err != nil {
			c.log.Debug("ignoring malformed relay frame", "relay", c.url, "error", err)
			continue
		}
		switch msg.Type {
		case "EVENT":
			if msg.SubID != subID || msg.Event == nil {
				continue
			}
			if msg.Event.PubKey != pubkey || msg.Event.Kind != kind {
				continue
			}
			if event == nil || msg.Event.CreatedAt > event.CreatedAt {
				event = msg.Event
			}
		case "EOSE":
			if msg.SubID != subID {
				continue
			}
			if frame, err := nostr.CloseFrame(subID); err == nil {
				_ = conn.WriteMessage(websocket.TextMessage, frame)
			}
			return event, nil
		}
	}
}
