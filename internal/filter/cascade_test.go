package filter

import (
	"context"
	"errors"
	"testing"

	"notepush/internal/nostr"
)

type stubSentChecker struct {
	sent map[string]bool
	err  error
}

func (s *stubSentChecker) WasSent(_ context.Context, eventID, recipient string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.sent[eventID+"/"+recipient], nil
}

type stubMuteSource struct {
	lists map[string]*nostr.MuteList
	err   error
}

func (s *stubMuteSource) MuteListFor(_ context.Context, pubkey string) (*nostr.MuteList, error) {
	if s.err != nil {
		return nil, s.err
	}
	if list, ok := s.lists[pubkey]; ok {
		return list, nil
	}
	return nostr.ParseMuteList(nil), nil
}

func testEvent() *nostr.Event {
	return &nostr.Event{
		ID:      "ev1",
		PubKey:  "author",
		Kind:    nostr.KindTextNote,
		Tags:    [][]string{{"p", "alice"}, {"e", "parent"}, {"t", "nostr"}},
		Content: "a note about something",
	}
}

func TestCascadeCheck(t *testing.T) {
	notifiable := []int{1, 4, 6, 7, 9735}

	tests := []struct {
		name       string
		event      *nostr.Event
		recipient  string
		sent       map[string]bool
		mutes      map[string]*nostr.MuteList
		wantAllow  bool
		wantReason Reason
	}{
		{
			name:      "allowed",
			event:     testEvent(),
			recipient: "alice",
			wantAllow: true,
		},
		{
			name:       "author is recipient",
			event:      testEvent(),
			recipient:  "author",
			wantReason: ReasonSelf,
		},
		{
			name:       "already sent",
			event:      testEvent(),
			recipient:  "alice",
			sent:       map[string]bool{"ev1/alice": true},
			wantReason: ReasonAlreadySent,
		},
		{
			name: "kind not notifiable",
			event: func() *nostr.Event {
				e := testEvent()
				e.Kind = nostr.KindMuteList
				return e
			}(),
			recipient:  "alice",
			wantReason: ReasonKind,
		},
		{
			name:      "muted author",
			event:     testEvent(),
			recipient: "alice",
			mutes: map[string]*nostr.MuteList{
				"alice": nostr.ParseMuteList(&nostr.Event{Tags: [][]string{{"p", "author"}}}),
			},
			wantReason: ReasonMuted,
		},
		{
			name:      "muted event id",
			event:     testEvent(),
			recipient: "alice",
			mutes: map[string]*nostr.MuteList{
				"alice": nostr.ParseMuteList(&nostr.Event{Tags: [][]string{{"e", "ev1"}}}),
			},
			wantReason: ReasonMuted,
		},
		{
			name:      "muted referenced event",
			event:     testEvent(),
			recipient: "alice",
			mutes: map[string]*nostr.MuteList{
				"alice": nostr.ParseMuteList(&nostr.Event{Tags: [][]string{{"e", "parent"}}}),
			},
			wantReason: ReasonMuted,
		},
		{
			name:      "muted hashtag case folded",
			event:     testEvent(),
			recipient: "alice",
			mutes: map[string]*nostr.MuteList{
				"alice": nostr.ParseMuteList(&nostr.Event{Tags: [][]string{{"t", "NOSTR"}}}),
			},
			wantReason: ReasonMuted,
		},
		{
			name:      "muted word in content",
			event:     testEvent(),
			recipient: "alice",
			mutes: map[string]*nostr.MuteList{
				"alice": nostr.ParseMuteList(&nostr.Event{Tags: [][]string{{"word", "SOMETHING"}}}),
			},
			wantReason: ReasonMuted,
		},
		{
			name:      "someone else's mute list does not apply",
			event:     testEvent(),
			recipient: "alice",
			mutes: map[string]*nostr.MuteList{
				"bob": nostr.ParseMuteList(&nostr.Event{Tags: [][]string{{"p", "author"}}}),
			},
			wantAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCascade(
				&stubSentChecker{sent: tt.sent},
				&stubMuteSource{lists: tt.mutes},
				notifiable,
			)
			got, err := c.Check(context.Background(), tt.event, tt.recipient)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if got.Allow != tt.wantAllow {
				t.Errorf("Allow = %v, want %v", got.Allow, tt.wantAllow)
			}
			if !tt.wantAllow && got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestCascadeStorageErrorSuppresses(t *testing.T) {
	c := NewCascade(
		&stubSentChecker{err: errors.New("db locked")},
		&stubMuteSource{},
		[]int{1},
	)
	got, err := c.Check(context.Background(), testEvent(), "alice")
	if err == nil {
		t.Fatal("expected error from failing dedup store")
	}
	if got.Allow {
		t.Error("storage failure must not allow delivery")
	}
}

func TestCascadeOrderSelfBeforeSent(t *testing.T) {
	// A failing dedup store must not matter when the recipient is the
	// author: the self check runs first.
	c := NewCascade(
		&stubSentChecker{err: errors.New("db locked")},
		&stubMuteSource{},
		[]int{1},
	)
	got, err := c.Check(context.Background(), testEvent(), "author")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got.Reason != ReasonSelf {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonSelf)
	}
}
