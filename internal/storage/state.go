// Package storage persists versioned JSON blobs in the resource_state table.
package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Meta describes a stored blob. A zero Version means nothing is stored.
type Meta struct {
	Version   int64
	UpdatedAt time.Time
}

// Exists reports whether the blob was found.
func (m Meta) Exists() bool { return m.Version > 0 }

// Store keeps one payload per (kind, id). Every write bumps the version.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store on db. The schema must already exist.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Load returns the payload stored under (kind, id). A missing entry is not
// an error: the payload is nil and the Meta is zero.
func (s *Store) Load(kind, id string) ([]byte, Meta, error) {
	var (
		payload string
		meta    Meta
		updated int64
	)
	err := s.db.QueryRow(`
		SELECT payload, version, updated_at FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payload, &meta.Version, &updated)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, Meta{}, nil
	case err != nil:
		return nil, Meta{}, err
	}
	meta.UpdatedAt = time.UnixMilli(updated)
	return []byte(payload), meta, nil
}

// Save upserts the payload and returns the new version.
func (s *Store) Save(kind, id string, payload []byte) (int64, error) {
	var version int64
	err := s.db.QueryRow(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, kind, id, string(payload), s.now().UnixMilli()).Scan(&version)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("kind", kind).
		Str("id", id).
		Int64("version", version).
		Int("bytes", len(payload)).
		Msg("Blob saved")
	return version, nil
}

// Delete removes (kind, id) and reports whether it existed.
func (s *Store) Delete(kind, id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Clear removes every entry of kind, or everything when kind is empty.
// It returns the number of entries removed.
func (s *Store) Clear(kind string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if kind == "" {
		res, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		res, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
