package pipeline

import (
	"encoding/json"
	"fmt"

	"notepush/internal/nostr"
)

const maxBodyRunes = 200

type alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type aps struct {
	Alert          alert  `json:"alert"`
	MutableContent int    `json:"mutable-content"`
	ThreadID       string `json:"thread-id"`
}

type payload struct {
	APS       aps    `json:"aps"`
	EventID   string `json:"nostr_event_id"`
	EventKind int    `json:"nostr_event_kind"`
}

// BuildPayload renders the push payload for an event.
func BuildPayload(event *nostr.Event) ([]byte, error) {
	p := payload{
		APS: aps{
			Alert: alert{
				Title: titleForKind(event.Kind),
				Body:  bodyFor(event),
			},
			MutableContent: 1,
			ThreadID:       event.PubKey,
		},
		EventID:   event.ID,
		EventKind: event.Kind,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func titleForKind(kind int) string {
	switch kind {
	case nostr.KindEncryptedDM:
		return "New direct message"
	case nostr.KindRepost:
		return "Someone reposted"
	case nostr.KindReaction:
		return "New reaction"
	case nostr.KindZapReceipt:
		return "Someone zapped you"
	default:
		return "New activity"
	}
}

func bodyFor(event *nostr.Event) string {
	if event.Kind == nostr.KindEncryptedDM {
		return "Contents are encrypted"
	}
	return truncate(event.Content, maxBodyRunes)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
