package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ComputeID returns the canonical event id: the hex-encoded SHA-256 of
// the serialized [0, pubkey, created_at, kind, tags, content] array.
func ComputeID(e *Event) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	arr := []any{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}
	if err := enc.Encode(arr); err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}
	// Encode appends a trailing newline that is not part of the
	// canonical form.
	serialized := bytes.TrimRight(buf.Bytes(), "\n")
	hash := sha256.Sum256(serialized)
	return hex.EncodeToString(hash[:]), nil
}

// Verify checks that the event id matches its canonical serialization
// and that the schnorr signature over the id is valid for the event's
// pubkey. It returns nil only for a fully valid event.
func Verify(e *Event) error {
	id, err := ComputeID(e)
	if err != nil {
		return err
	}
	if id != e.ID {
		return fmt.Errorf("event id mismatch: got %s, computed %s", e.ID, id)
	}

	pubkeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("decode pubkey: %w", err)
	}
	pubkey, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("decode event id: %w", err)
	}
	if !sig.Verify(idBytes, pubkey) {
		return fmt.Errorf("invalid signature for event %s", e.ID)
	}
	return nil
}
