package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"notepush/internal/model"
	"notepush/migrations"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordReceived records that an event arrived. It returns false when
// the event id was already recorded.
func (s *SQLite) RecordReceived(ctx context.Context, eventID, author string, kind int, receivedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, author, kind, received_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, author, kind, receivedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("record received: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordSent records that a notification for the event was sent to the
// recipient. It returns false when that pair was already recorded.
func (s *SQLite) RecordSent(ctx context.Context, eventID, recipient string, sentAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (event_id, recipient_pubkey, sent_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (event_id, recipient_pubkey) DO NOTHING`,
		eventID, recipient, sentAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("record sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// WasSent reports whether a notification for the event was already
// sent to the recipient.
func (s *SQLite) WasSent(ctx context.Context, eventID, recipient string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE event_id = ? AND recipient_pubkey = ?`,
		eventID, recipient,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return count > 0, nil
}

// PubkeysNotifiedFor returns every pubkey that received a notification
// for the given event id.
func (s *SQLite) PubkeysNotifiedFor(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_pubkey FROM notifications WHERE event_id = ? ORDER BY recipient_pubkey`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query notified pubkeys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pubkeys []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("scan pubkey: %w", err)
		}
		pubkeys = append(pubkeys, pk)
	}
	return pubkeys, rows.Err()
}

// RegisterDevice stores a (pubkey, token) pair with default
// preferences. Re-registering an existing pair is a no-op that keeps
// the stored preferences.
func (s *SQLite) RegisterDevice(ctx context.Context, pubkey, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (pubkey, device_token, registered_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (pubkey, device_token) DO NOTHING`,
		pubkey, token, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// RemoveDevice deletes a (pubkey, token) pair. Removing an unknown
// pair is not an error.
func (s *SQLite) RemoveDevice(ctx context.Context, pubkey, token string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM devices WHERE pubkey = ? AND device_token = ?`,
		pubkey, token,
	)
	if err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	return nil
}

// DevicesFor returns all devices registered for the given pubkey,
// preferences included.
func (s *SQLite) DevicesFor(ctx context.Context, pubkey string) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pubkey, device_token, registered_at,
		        zap_notifications_enabled, mention_notifications_enabled,
		        repost_notifications_enabled, reaction_notifications_enabled,
		        dm_notifications_enabled, only_notifications_from_following_enabled
		 FROM devices WHERE pubkey = ? ORDER BY device_token`,
		pubkey,
	)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetSettings returns the notification preferences for a device. It
// returns ErrNotFound for an unregistered pair.
func (s *SQLite) GetSettings(ctx context.Context, pubkey, token string) (model.NotificationSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT pubkey, device_token, registered_at,
		        zap_notifications_enabled, mention_notifications_enabled,
		        repost_notifications_enabled, reaction_notifications_enabled,
		        dm_notifications_enabled, only_notifications_from_following_enabled
		 FROM devices WHERE pubkey = ? AND device_token = ?`,
		pubkey, token,
	)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return model.NotificationSettings{}, ErrNotFound
	}
	if err != nil {
		return model.NotificationSettings{}, err
	}
	return d.Settings, nil
}

// SaveSettings replaces the notification preferences for a device. It
// returns ErrNotFound for an unregistered pair.
func (s *SQLite) SaveSettings(ctx context.Context, pubkey, token string, set model.NotificationSettings) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET
		    zap_notifications_enabled = ?,
		    mention_notifications_enabled = ?,
		    repost_notifications_enabled = ?,
		    reaction_notifications_enabled = ?,
		    dm_notifications_enabled = ?,
		    only_notifications_from_following_enabled = ?
		 WHERE pubkey = ? AND device_token = ?`,
		boolToInt(set.ZapNotificationsEnabled),
		boolToInt(set.MentionNotificationsEnabled),
		boolToInt(set.RepostNotificationsEnabled),
		boolToInt(set.ReactionNotificationsEnabled),
		boolToInt(set.DMNotificationsEnabled),
		boolToInt(set.OnlyNotificationsFromFollowingEnabled),
		pubkey, token,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDevice(row scannable) (model.Device, error) {
	var d model.Device
	var registeredAt int64
	var zap, mention, repost, reaction, dm, onlyFollowing int
	err := row.Scan(&d.Pubkey, &d.Token, &registeredAt,
		&zap, &mention, &repost, &reaction, &dm, &onlyFollowing)
	if err == sql.ErrNoRows {
		return d, err
	}
	if err != nil {
		return d, fmt.Errorf("scan device: %w", err)
	}
	d.RegisteredAt = time.Unix(registeredAt, 0).UTC()
	d.Settings = model.NotificationSettings{
		ZapNotificationsEnabled:               zap == 1,
		MentionNotificationsEnabled:           mention == 1,
		RepostNotificationsEnabled:            repost == 1,
		ReactionNotificationsEnabled:          reaction == 1,
		DMNotificationsEnabled:                dm == 1,
		OnlyNotificationsFromFollowingEnabled: onlyFollowing == 1,
	}
	return d, nil
}
