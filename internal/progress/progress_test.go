package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func openTestSQLite(t *testing.T, slot string) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.db")
	s, err := OpenSQLite(context.Background(), path, slot)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord() *Record {
	return &Record{
		SessionID: "sess-1",
		Step:      "answering",
		Name:      "Sarah",
		Age:       "21",
		Gender:    "F",
		Answers:   []string{"Often", "", "Never"},
		Position:  1,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, "")

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	in := sampleRecord()
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != SchemaVersion {
		t.Fatalf("expected version %d, got %d", SchemaVersion, got.Version)
	}
	if got.Step != in.Step || got.Name != in.Name || got.Age != in.Age || got.Gender != in.Gender || got.Position != in.Position {
		t.Fatalf("record mismatch: got %+v", got)
	}
	if !reflect.DeepEqual(got.Answers, in.Answers) {
		t.Fatalf("answers mismatch: got %v want %v", got.Answers, in.Answers)
	}
}

func TestSQLiteStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, "kiosk-a")

	first := sampleRecord()
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := sampleRecord()
	second.Position = 2
	second.Answers = []string{"", "", ""}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Position != 2 || got.Answers[0] != "" {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}

func TestSQLiteStoreClear(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, "")

	if err := s.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear on empty store should succeed, got %v", err)
	}
}

func TestSQLiteStoreSlotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a, err := OpenSQLite(ctx, path, "a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(ctx, path, "b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("slot b should be empty, got %v", err)
	}
}

func TestDecodeRejectsOtherVersion(t *testing.T) {
	_, err := decode([]byte(`{"version":99,"step":"welcome"}`))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestRedisStore_Integration(t *testing.T) {
	if os.Getenv("SURVEYCMI_INTEGRATION") != "1" {
		t.Skip("set SURVEYCMI_INTEGRATION=1 to run integration tests")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	slot := "itest-" + time.Now().Format("150405.000000")
	s := NewRedisStore(client, slot, time.Minute)
	defer s.Close()

	if err := s.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Sarah" || len(got.Answers) != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}
