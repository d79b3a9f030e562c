package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"notepush/internal/model"
)

var ignoreRegisteredAt = cmpopts.IgnoreFields(model.Device{}, "RegisteredAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordReceivedDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Now()

	first, err := s.RecordReceived(ctx, "ev1", "author1", 1, now)
	if err != nil {
		t.Fatalf("record received: %v", err)
	}
	if !first {
		t.Error("first RecordReceived = false, want true")
	}

	again, err := s.RecordReceived(ctx, "ev1", "author1", 1, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("record received again: %v", err)
	}
	if again {
		t.Error("duplicate RecordReceived = true, want false")
	}

	other, err := s.RecordReceived(ctx, "ev2", "author1", 1, now)
	if err != nil {
		t.Fatalf("record received other: %v", err)
	}
	if !other {
		t.Error("distinct event RecordReceived = false, want true")
	}
}

func TestRecordSentAndWasSent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Now()

	sent, err := s.WasSent(ctx, "ev1", "alice")
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Error("WasSent before recording = true, want false")
	}

	claimed, err := s.RecordSent(ctx, "ev1", "alice", now)
	if err != nil {
		t.Fatalf("record sent: %v", err)
	}
	if !claimed {
		t.Error("first RecordSent = false, want true")
	}

	again, err := s.RecordSent(ctx, "ev1", "alice", now)
	if err != nil {
		t.Fatalf("record sent again: %v", err)
	}
	if again {
		t.Error("duplicate RecordSent = true, want false")
	}

	sent, err = s.WasSent(ctx, "ev1", "alice")
	if err != nil {
		t.Fatalf("was sent after recording: %v", err)
	}
	if !sent {
		t.Error("WasSent after recording = false, want true")
	}

	// A different recipient of the same event is an independent row.
	claimed, err = s.RecordSent(ctx, "ev1", "bob", now)
	if err != nil {
		t.Fatalf("record sent bob: %v", err)
	}
	if !claimed {
		t.Error("RecordSent for second recipient = false, want true")
	}
}

func TestPubkeysNotifiedFor(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Now()

	for _, pk := range []string{"carol", "alice", "bob"} {
		if _, err := s.RecordSent(ctx, "ev1", pk, now); err != nil {
			t.Fatalf("record sent %s: %v", pk, err)
		}
	}
	if _, err := s.RecordSent(ctx, "ev2", "dave", now); err != nil {
		t.Fatalf("record sent dave: %v", err)
	}

	got, err := s.PubkeysNotifiedFor(ctx, "ev1")
	if err != nil {
		t.Fatalf("pubkeys notified for: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PubkeysNotifiedFor mismatch (-want +got):\n%s", diff)
	}

	none, err := s.PubkeysNotifiedFor(ctx, "unknown")
	if err != nil {
		t.Fatalf("pubkeys notified for unknown: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no pubkeys for unknown event, got %v", none)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.RegisterDevice(ctx, "alice", "token1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterDevice(ctx, "alice", "token2"); err != nil {
		t.Fatalf("register second: %v", err)
	}
	// Re-registering must not reset anything.
	if err := s.RegisterDevice(ctx, "alice", "token1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	devices, err := s.DevicesFor(ctx, "alice")
	if err != nil {
		t.Fatalf("devices for: %v", err)
	}
	want := []model.Device{
		{Pubkey: "alice", Token: "token1", Settings: model.DefaultSettings()},
		{Pubkey: "alice", Token: "token2", Settings: model.DefaultSettings()},
	}
	if diff := cmp.Diff(want, devices, ignoreRegisteredAt); diff != "" {
		t.Errorf("DevicesFor mismatch (-want +got):\n%s", diff)
	}

	if err := s.RemoveDevice(ctx, "alice", "token1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	devices, err = s.DevicesFor(ctx, "alice")
	if err != nil {
		t.Fatalf("devices for after remove: %v", err)
	}
	if len(devices) != 1 || devices[0].Token != "token2" {
		t.Errorf("after remove, devices = %+v, want only token2", devices)
	}

	// Removing an unknown pair is not an error.
	if err := s.RemoveDevice(ctx, "alice", "nope"); err != nil {
		t.Errorf("remove unknown: %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if err := s.RegisterDevice(ctx, "alice", "token1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := s.GetSettings(ctx, "alice", "token1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if diff := cmp.Diff(model.DefaultSettings(), got); diff != "" {
		t.Errorf("default settings mismatch (-want +got):\n%s", diff)
	}

	updated := model.NotificationSettings{
		ZapNotificationsEnabled:               false,
		MentionNotificationsEnabled:           true,
		RepostNotificationsEnabled:            false,
		ReactionNotificationsEnabled:          true,
		DMNotificationsEnabled:                false,
		OnlyNotificationsFromFollowingEnabled: true,
	}
	if err := s.SaveSettings(ctx, "alice", "token1", updated); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	got, err = s.GetSettings(ctx, "alice", "token1")
	if err != nil {
		t.Fatalf("get settings after save: %v", err)
	}
	if diff := cmp.Diff(updated, got); diff != "" {
		t.Errorf("saved settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsUnknownDevice(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	if _, err := s.GetSettings(ctx, "nobody", "notoken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSettings unknown = %v, want ErrNotFound", err)
	}
	if err := s.SaveSettings(ctx, "nobody", "notoken", model.DefaultSettings()); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveSettings unknown = %v, want ErrNotFound", err)
	}
}
