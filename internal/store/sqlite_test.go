package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ashureev/prestador-desk/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "session.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testIdentity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := domain.ParseIdentity([]byte(`{"id": 42, "nome": "Ana", "mecLogin": "ana.m", "role": "prestador"}`))
	if err != nil {
		t.Fatalf("ParseIdentity failed: %v", err)
	}
	return id
}

func TestLoadEmptyStore(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent session, got %+v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := domain.Session{Identity: testIdentity(t), Token: "tok-1"}

	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Token != want.Token {
		t.Errorf("expected token %q, got %q", want.Token, got.Token)
	}
	if got.Identity.ID() != "42" || got.Identity.Name() != "Ana" {
		t.Errorf("unexpected identity: %+v", got.Identity)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, domain.Session{Identity: testIdentity(t), Token: "old"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, domain.Session{Identity: domain.Identity{"id": "7"}, Token: "new"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Token != "new" || got.Identity.ID() != "7" {
		t.Fatalf("expected overwritten session, got %+v", got)
	}
}

func TestSaveRejectsPartialSession(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(context.Background(), domain.Session{Identity: testIdentity(t)})
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClearRemovesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, domain.Session{Identity: testIdentity(t), Token: "tok"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent session after clear, got %+v", got)
	}
}

func TestLoadMalformedIdentityIsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for key, value := range map[string]string{KeyIdentity: "{not json", KeyToken: "tok"} {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, 0)`, key, value); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("expected malformed payload to be non-fatal, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent session, got %+v", got)
	}
}

func TestLoadHalfPresentIsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, 0)`, KeyToken, "tok"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected token-only store to load as absent, got %+v", got)
	}
}

func TestClosedStoreReportsStorageError(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "session.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = s.Load(context.Background())
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError from closed store, got %v", err)
	}
}
