package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore on a SQLite key-value table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the session database at dbPath.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer keeps save/clear ordering trivially serial.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load reads the stored session. A missing or malformed pair is reported as
// absent and logged; only database failures are errors.
func (s *SQLiteStore) Load(ctx context.Context) (*domain.Session, error) {
	rawIdentity, err := s.get(ctx, KeyIdentity)
	if err != nil {
		return nil, storageError("load", err)
	}
	token, err := s.get(ctx, KeyToken)
	if err != nil {
		return nil, storageError("load", err)
	}
	if rawIdentity == "" || token == "" {
		return nil, nil
	}

	identity, err := domain.ParseIdentity([]byte(rawIdentity))
	if err != nil {
		s.logger.Warn("Stored identity is malformed, treating session as absent", "error", err)
		return nil, nil
	}
	return &domain.Session{Identity: identity, Token: token}, nil
}

// Save writes identity and token in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, session domain.Session) error {
	if !session.Complete() {
		return storageError("save", fmt.Errorf("%w: session must carry identity and token", domain.ErrInvalidInput))
	}
	payload, err := json.Marshal(session.Identity)
	if err != nil {
		return storageError("save", fmt.Errorf("encode identity: %w", err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("save", fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Debug("Rollback after save failed", "error", rbErr)
		}
	}()

	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`
	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, query, KeyIdentity, string(payload), now); err != nil {
		return storageError("save", fmt.Errorf("write identity: %w", err))
	}
	if _, err := tx.ExecContext(ctx, query, KeyToken, session.Token, now); err != nil {
		return storageError("save", fmt.Errorf("write token: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return storageError("save", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Clear deletes every stored entry.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return storageError("clear", err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func storageError(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StorageError{Op: op, Busy: shared.IsSQLiteConflictError(err), Err: err}
}
