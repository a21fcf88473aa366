// Package storage persists records of WhatsApp groups created through the
// gateway.
package storage

import (
	"context"
	"database/sql"
	"time"
)

// GroupRecord is one created-group row.
type GroupRecord struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ParticipantCount int       `json:"participantCount"`
	CreatedBy        string    `json:"createdBy"`
	CreatedAt        time.Time `json:"createdAt"`
}

// GroupStore records and lists groups created through the gateway.
type GroupStore interface {
	RecordGroup(ctx context.Context, rec GroupRecord) error
	ListGroups(ctx context.Context) ([]GroupRecord, error)
}

// Store implements GroupStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ GroupStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS whatsapp_groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	participant_count INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the groups table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RecordGroup inserts one created-group row. Re-recording an existing group
// updates its name and participant count.
func (s *Store) RecordGroup(ctx context.Context, rec GroupRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whatsapp_groups (id, name, participant_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, participant_count = $3
	`, rec.ID, rec.Name, rec.ParticipantCount, rec.CreatedBy, rec.CreatedAt)
	return err
}

// ListGroups returns all recorded groups, newest first.
func (s *Store) ListGroups(ctx context.Context) ([]GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, participant_count, created_by, created_at
		FROM whatsapp_groups
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []GroupRecord
	for rows.Next() {
		var rec GroupRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ParticipantCount, &rec.CreatedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
