package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS survey_progress (
	slot TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at_unix INTEGER NOT NULL
);`

// SQLiteStore keeps the record in a local SQLite file, one row per slot.
type SQLiteStore struct {
	db   *sql.DB
	slot string
}

func OpenSQLite(ctx context.Context, path, slot string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open progress db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create progress schema: %w", err)
	}
	return &SQLiteStore{db: db, slot: normalizeSlot(slot)}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM survey_progress WHERE slot = ?`, s.slot).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query progress: %w", err)
	}
	return decode([]byte(payload))
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	b, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO survey_progress (slot, payload, updated_at_unix)
		VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, updated_at_unix = excluded.updated_at_unix
	`, s.slot, string(b), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM survey_progress WHERE slot = ?`, s.slot); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
