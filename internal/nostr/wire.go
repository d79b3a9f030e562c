package nostr

import (
	"encoding/json"
	"fmt"
)

// Filter is the subscription filter sent in a REQ frame. Zero fields
// are omitted from the wire form.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// ReqFrame builds a ["REQ", subID, filter] message.
func ReqFrame(subID string, filter Filter) ([]byte, error) {
	return json.Marshal([]any{"REQ", subID, filter})
}

// CloseFrame builds a ["CLOSE", subID] message.
func CloseFrame(subID string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", subID})
}

// OKFrame builds an ["OK", eventID, accepted, message] response.
func OKFrame(eventID string, accepted bool, message string) ([]byte, error) {
	return json.Marshal([]any{"OK", eventID, accepted, message})
}

// NoticeFrame builds a ["NOTICE", message] response.
func NoticeFrame(message string) ([]byte, error) {
	return json.Marshal([]any{"NOTICE", message})
}

// RelayMessage is one parsed frame received from a relay connection,
// in either direction. Only the fields for the named Type are set.
type RelayMessage struct {
	Type  string
	SubID string
	Event *Event
}

// ParseRelayMessage decodes a frame sent by an upstream relay:
// ["EVENT", subID, event], ["EOSE", subID], or ["NOTICE", message].
func ParseRelayMessage(data []byte) (*RelayMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode relay frame: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty relay frame")
	}
	var typ string
	if err := json.Unmarshal(raw[0], &typ); err != nil {
		return nil, fmt.Errorf("decode frame type: %w", err)
	}
	msg := &RelayMessage{Type: typ}
	switch typ {
	case "EVENT":
		if len(raw) < 3 {
			return nil, fmt.Errorf("EVENT frame has %d elements, want 3", len(raw))
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("decode subscription id: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(raw[2], &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		msg.Event = &ev
	case "EOSE":
		if len(raw) < 2 {
			return nil, fmt.Errorf("EOSE frame has %d elements, want 2", len(raw))
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("decode subscription id: %w", err)
		}
	}
	return msg, nil
}

// ParseClientMessage decodes a frame sent by a connecting client. Only
// ["EVENT", event] is meaningful to this service; other types are
// returned with their name so the caller can answer with a NOTICE.
func ParseClientMessage(data []byte) (*RelayMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode client frame: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty client frame")
	}
	var typ string
	if err := json.Unmarshal(raw[0], &typ); err != nil {
		return nil, fmt.Errorf("decode frame type: %w", err)
	}
	msg := &RelayMessage{Type: typ}
	if typ == "EVENT" {
		if len(raw) < 2 {
			return nil, fmt.Errorf("EVENT frame has %d elements, want 2", len(raw))
		}
		var ev Event
		if err := json.Unmarshal(raw[1], &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		msg.Event = &ev
	}
	return msg, nil
}
