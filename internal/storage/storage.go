// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"notepush/internal/model"
)

// ErrNotFound is returned when a lookup names a row that does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
//
// RecordReceived and RecordSent report false when the row already
// existed; duplicates are expected outcomes, not errors.
type Storage interface {
	RecordReceived(ctx context.Context, eventID, author string, kind int, receivedAt time.Time) (bool, error)
	RecordSent(ctx context.Context, eventID, recipient string, sentAt time.Time) (bool, error)
	WasSent(ctx context.Context, eventID, recipient string) (bool, error)
	PubkeysNotifiedFor(ctx context.Context, eventID string) ([]string, error)

	RegisterDevice(ctx context.Context, pubkey, token string) error
	RemoveDevice(ctx context.Context, pubkey, token string) error
	DevicesFor(ctx context.Context, pubkey string) ([]model.Device, error)
	GetSettings(ctx context.Context, pubkey, token string) (model.NotificationSettings, error)
	SaveSettings(ctx context.Context, pubkey, token string, s model.NotificationSettings) error

	Close() error
}
