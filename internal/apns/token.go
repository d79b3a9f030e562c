package apns

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Apple rejects provider tokens older than an hour; re-mint before
// that.
const tokenLifetime = 55 * time.Minute

type tokenSource struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu       sync.Mutex
	current  string
	mintedAt time.Time

	now func() time.Time
}

func newTokenSource(keyPath, keyID, teamID string) (*tokenSource, error) {
	key, err := loadPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &tokenSource{key: key, keyID: keyID, teamID: teamID, now: time.Now}, nil
}

// bearer returns a signed provider token, minting a fresh one when the
// cached token is near expiry.
func (t *tokenSource) bearer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.current != "" && now.Sub(t.mintedAt) < tokenLifetime {
		return t.current, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": t.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = t.keyID

	signed, err := tok.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}
	t.current = signed
	t.mintedAt = now
	return signed, nil
}

func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want *ecdsa.PrivateKey", parsed)
	}
	return key, nil
}
