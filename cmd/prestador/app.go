package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/prestador-desk/internal/auth"
	"github.com/ashureev/prestador-desk/internal/backend"
	"github.com/ashureev/prestador-desk/internal/config"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/ashureev/prestador-desk/internal/store"
)

// app holds what every command needs: config, the session store and
// controller, and the backend client.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.SQLiteStore
	auth    *auth.Controller
	backend *backend.Client
	catalog *locale.Catalog
}

func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp loads configuration and restores the stored session.
// CLI commands log as text to stderr; the daemon logs JSON to stdout.
func openApp(ctx context.Context, configPath string, daemon bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	var logger *slog.Logger
	if daemon {
		logger = newLogger(os.Stdout, cfg.LogLevel, true)
	} else {
		level := cfg.LogLevel
		if os.Getenv("LOG_LEVEL") == "" {
			level = "warn"
		}
		logger = newLogger(os.Stderr, level, false)
	}
	slog.SetDefault(logger)

	catalog, err := locale.New(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("load locale: %w", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	s, err := store.NewSQLite(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	ctrl := auth.NewController(s, logger)
	ctrl.Init(ctx)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		auth:    ctrl,
		backend: backend.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, logger),
		catalog: catalog,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close session store", "error", err)
	}
}

// requireSession returns the bearer token or a user-facing error.
func (a *app) requireSession() (string, error) {
	if !a.auth.IsAuthenticated() {
		return "", errors.New(a.catalog.Lookup(locale.NotAuthenticated))
	}
	return a.auth.Token(), nil
}

// userError turns err into the message a provider should see, forcing a
// sign-out when the backend rejected the credential.
func (a *app) userError(ctx context.Context, err error, fallback string) error {
	a.logger.Debug("Command failed", "error", err)
	var fe *domain.FetchError
	switch {
	case a.auth.HandleAuthError(ctx, err):
		return errors.New(a.catalog.Lookup(locale.SessionExpired))
	case errors.Is(err, backend.ErrNoToken):
		return errors.New(a.catalog.Or(domain.ServerMessage(err), locale.NoToken))
	case errors.Is(err, domain.ErrInvalidInput):
		return errors.New(a.catalog.Lookup(fallback))
	case errors.As(err, &fe) && fe.Status == 0:
		return errors.New(a.catalog.Lookup(locale.ServerUnreachable))
	default:
		return errors.New(a.catalog.Or(domain.ServerMessage(err), fallback))
	}
}
