// Package progress persists one in-progress survey session on the taker's
// machine so a reload resumes where the user left off.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is bumped whenever Record changes shape. Records written with
// another version are discarded on load.
const SchemaVersion = 1

var (
	ErrNotFound        = errors.New("progress not found")
	ErrVersionMismatch = errors.New("progress schema version mismatch")
)

// Record is the whole session. It is always saved, loaded and cleared as a unit.
type Record struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id"`
	Step      string    `json:"step"`
	Name      string    `json:"name"`
	Age       string    `json:"age"`
	Gender    string    `json:"gender"`
	Answers   []string  `json:"answers"`
	Position  int       `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Clear(ctx context.Context) error
	Close() error
}

func encode(rec *Record) ([]byte, error) {
	out := *rec
	out.Version = SchemaVersion
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if rec.Version != SchemaVersion {
		return nil, ErrVersionMismatch
	}
	return &rec, nil
}

func normalizeSlot(slot string) string {
	slot = strings.TrimSpace(slot)
	if slot == "" {
		return "default"
	}
	return slot
}
