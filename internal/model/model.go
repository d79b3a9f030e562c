// Package model defines the domain types used across the application.
package model

import (
	"time"

	"notepush/internal/nostr"
)

// Device is a registered (pubkey, device token) pair that can receive
// push notifications.
type Device struct {
	Pubkey       string
	Token        string
	RegisteredAt time.Time
	Settings     NotificationSettings
}

// NotificationSettings holds the per-device notification preferences.
// A fresh registration enables every class except only-following.
type NotificationSettings struct {
	ZapNotificationsEnabled               bool `json:"zap_notifications_enabled"`
	MentionNotificationsEnabled           bool `json:"mention_notifications_enabled"`
	RepostNotificationsEnabled            bool `json:"repost_notifications_enabled"`
	ReactionNotificationsEnabled          bool `json:"reaction_notifications_enabled"`
	DMNotificationsEnabled                bool `json:"dm_notifications_enabled"`
	OnlyNotificationsFromFollowingEnabled bool `json:"only_notifications_from_following_enabled"`
}

// DefaultSettings returns the preferences applied to a newly
// registered device.
func DefaultSettings() NotificationSettings {
	return NotificationSettings{
		ZapNotificationsEnabled:      true,
		MentionNotificationsEnabled:  true,
		RepostNotificationsEnabled:   true,
		ReactionNotificationsEnabled: true,
		DMNotificationsEnabled:       true,
	}
}

// AllowsKind reports whether the settings permit notifications for the
// given event kind. Unknown kinds fall under the mention class.
func (s NotificationSettings) AllowsKind(kind int) bool {
	switch kind {
	case nostr.KindZapReceipt:
		return s.ZapNotificationsEnabled
	case nostr.KindEncryptedDM:
		return s.DMNotificationsEnabled
	case nostr.KindRepost:
		return s.RepostNotificationsEnabled
	case nostr.KindReaction:
		return s.ReactionNotificationsEnabled
	default:
		return s.MentionNotificationsEnabled
	}
}
