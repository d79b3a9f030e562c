// Package nip98 verifies Nostr HTTP auth headers for the admin API.
package nip98

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"notepush/internal/nostr"
)

// Auth events may be this far in the past or future, allowing for
// clock skew.
const (
	maxAge  = 60 * time.Second
	maxSkew = 30 * time.Second
)

// Verify checks the Authorization header of r against the expected
// request URL and body, returning the authenticated pubkey.
func Verify(r *http.Request, baseURL string, body []byte) (string, error) {
	return verifyAt(r, baseURL, body, time.Now())
}

func verifyAt(r *http.Request, baseURL string, body []byte, now time.Time) (string, error) {
	header := r.Header.Get("Authorization")
	const scheme = "Nostr "
	if !strings.HasPrefix(header, scheme) {
		return "", fmt.Errorf("missing Nostr authorization header")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, scheme))
	if err != nil {
		return "", fmt.Errorf("decode authorization event: %w", err)
	}
	var event nostr.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return "", fmt.Errorf("parse authorization event: %w", err)
	}

	if event.Kind != nostr.KindHTTPAuth {
		return "", fmt.Errorf("authorization event has kind %d, want %d", event.Kind, nostr.KindHTTPAuth)
	}

	createdAt := event.CreatedAtTime()
	if createdAt.Before(now.Add(-maxAge)) || createdAt.After(now.Add(maxSkew)) {
		return "", fmt.Errorf("authorization event timestamp out of window")
	}

	wantURL := strings.TrimSuffix(baseURL, "/") + r.URL.Path
	u, ok := event.TagValue("u")
	if !ok || u != wantURL {
		return "", fmt.Errorf("authorization url %q does not match request url %q", u, wantURL)
	}

	method, ok := event.TagValue("method")
	if !ok || !strings.EqualFold(method, r.Method) {
		return "", fmt.Errorf("authorization method %q does not match request method %q", method, r.Method)
	}

	if payloadHash, ok := event.TagValue("payload"); ok {
		sum := sha256.Sum256(body)
		if !strings.EqualFold(payloadHash, hex.EncodeToString(sum[:])) {
			return "", fmt.Errorf("payload hash mismatch")
		}
	} else if len(body) > 0 {
		return "", fmt.Errorf("request has a body but authorization carries no payload hash")
	}

	if err := nostr.Verify(&event); err != nil {
		return "", fmt.Errorf("verify authorization event: %w", err)
	}
	return event.PubKey, nil
}
