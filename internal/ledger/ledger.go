// Package ledger provides an append-only history of the commands trimlightd
// sent to the device, keyed by the correlation id of the user action.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandSent        EventType = "command_sent"
	EventCommandFailed      EventType = "command_failed"
	EventVerificationFired  EventType = "verification_fired"
	EventVerificationFailed EventType = "verification_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	DeviceID  string
	CID       string
	Op        string
	Payload   map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db       *sql.DB
	deviceID string
}

// New creates a new Ledger for one device using the provided database connection
func New(db *sql.DB, deviceID string) *Ledger {
	return &Ledger{db: db, deviceID: deviceID}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, cid, op string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().UnixMilli()

	_, err = l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, device_id, cid, op, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(eventType), now, l.deviceID, cid, op, string(payloadJSON))

	return err
}

// ByCID returns all entries recorded for one correlation id, oldest first.
func (l *Ledger) ByCID(cid string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, device_id, cid, op, payload
		FROM event_ledger
		WHERE cid = ?
		ORDER BY id ASC
	`, cid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Recent returns the newest entries, newest first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, device_id, cid, op, payload
		FROM event_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup applies the retention policy every interval until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup ledger")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.DeviceID, &entry.CID, &entry.Op, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
