// Package nostr defines the protocol-level event model shared by the
// inbound relay front-end, the upstream relay client, and the
// notification pipeline.
package nostr

import "time"

// Event kinds this service cares about.
const (
	KindContactList = 3
	KindTextNote    = 1
	KindEncryptedDM = 4
	KindRepost      = 6
	KindReaction    = 7
	KindZapReceipt  = 9735
	KindMuteList    = 10000
	KindHTTPAuth    = 27235
)

// Event is a signed, immutable protocol message. Fields mirror the wire
// representation; hex strings are kept as-is and never re-encoded.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// CreatedAtTime returns the event timestamp as a time.Time.
func (e *Event) CreatedAtTime() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}

// ReferencedPubkeys returns the ordered, de-duplicated pubkeys named in
// the event's "p" tags.
func (e *Event) ReferencedPubkeys() []string {
	return e.tagValues("p")
}

// ReferencedEventIDs returns the ordered, de-duplicated event ids named
// in the event's "e" tags.
func (e *Event) ReferencedEventIDs() []string {
	return e.tagValues("e")
}

// Hashtags returns the ordered, de-duplicated values of the event's "t"
// tags.
func (e *Event) Hashtags() []string {
	return e.tagValues("t")
}

// TagValue returns the first value of the first tag with the given name.
func (e *Event) TagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

func (e *Event) tagValues(name string) []string {
	var values []string
	seen := make(map[string]struct{})
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[0] != name || tag[1] == "" {
			continue
		}
		if _, ok := seen[tag[1]]; ok {
			continue
		}
		seen[tag[1]] = struct{}{}
		values = append(values, tag[1])
	}
	return values
}
