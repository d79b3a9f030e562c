// Package filter implements the per-recipient notification decision
// cascade.
package filter

import (
	"context"
	"fmt"

	"notepush/internal/nostr"
)

// Reason explains why a recipient was suppressed.
type Reason string

// Suppression reasons, in cascade order.
const (
	ReasonSelf        Reason = "self"
	ReasonAlreadySent Reason = "already_sent"
	ReasonKind        Reason = "kind"
	ReasonMuted       Reason = "muted"
)

// Decision is the outcome of running the cascade for one recipient.
type Decision struct {
	Allow  bool
	Reason Reason
}

var allow = Decision{Allow: true}

func suppress(r Reason) Decision {
	return Decision{Reason: r}
}

// SentChecker answers whether a notification was already recorded for
// an (event, recipient) pair.
type SentChecker interface {
	WasSent(ctx context.Context, eventID, recipient string) (bool, error)
}

// MuteSource returns a recipient's current mute list. An empty list is
// a valid answer for recipients that have none.
type MuteSource interface {
	MuteListFor(ctx context.Context, pubkey string) (*nostr.MuteList, error)
}

// Cascade runs the ordered per-recipient checks. The first failing
// check wins; later checks are not evaluated.
type Cascade struct {
	sent           SentChecker
	mutes          MuteSource
	notifiableKind map[int]bool
}

// NewCascade builds a cascade over the given dedup store and mute
// source, notifying only for the listed event kinds.
func NewCascade(sent SentChecker, mutes MuteSource, kinds []int) *Cascade {
	notifiable := make(map[int]bool, len(kinds))
	for _, k := range kinds {
		notifiable[k] = true
	}
	return &Cascade{sent: sent, mutes: mutes, notifiableKind: notifiable}
}

// Check decides whether recipient should be notified about event.
// A storage or mute-fetch error suppresses the recipient rather than
// failing the event.
func (c *Cascade) Check(ctx context.Context, event *nostr.Event, recipient string) (Decision, error) {
	if recipient == event.PubKey {
		return suppress(ReasonSelf), nil
	}

	sent, err := c.sent.WasSent(ctx, event.ID, recipient)
	if err != nil {
		return suppress(ReasonAlreadySent), fmt.Errorf("check sent: %w", err)
	}
	if sent {
		return suppress(ReasonAlreadySent), nil
	}

	if !c.notifiableKind[event.Kind] {
		return suppress(ReasonKind), nil
	}

	muted, err := c.muted(ctx, event, recipient)
	if err != nil {
		return suppress(ReasonMuted), fmt.Errorf("check mutes: %w", err)
	}
	if muted {
		return suppress(ReasonMuted), nil
	}

	return allow, nil
}

func (c *Cascade) muted(ctx context.Context, event *nostr.Event, recipient string) (bool, error) {
	mutes, err := c.mutes.MuteListFor(ctx, recipient)
	if err != nil {
		return false, err
	}
	if mutes.MutesAuthor(event.PubKey) {
		return true, nil
	}
	if mutes.MutesEvent(event.ID) {
		return true, nil
	}
	if mutes.MutesEvent(event.ReferencedEventIDs()...) {
		return true, nil
	}
	if mutes.MutesHashtag(event.Hashtags()...) {
		return true, nil
	}
	if mutes.MutesContent(event.Content) {
		return true, nil
	}
	return false, nil
}
