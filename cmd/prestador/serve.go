package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/prestador-desk/internal/api"
	"github.com/ashureev/prestador-desk/internal/auth"
	"github.com/ashureev/prestador-desk/internal/chat"
	"github.com/ashureev/prestador-desk/internal/chatws"
	"github.com/ashureev/prestador-desk/internal/identity"
	"github.com/ashureev/prestador-desk/internal/middleware"
	"github.com/ashureev/prestador-desk/internal/realtime"
	"github.com/ashureev/prestador-desk/internal/shared"
	"github.com/ashureev/prestador-desk/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local desk API, chat streams and browser shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := openApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	logger.Info("Starting desk", "port", cfg.Port, "dev", cfg.IsDevelopment(), "api", cfg.APIBaseURL, "auth", a.auth.State().String())

	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("session store health check: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dialer, err := realtime.NewDialer(realtime.Config{
		URL:          cfg.SocketURL,
		MaxRetries:   cfg.Realtime.MaxRetries,
		BackoffBase:  cfg.Realtime.BackoffBase,
		BackoffMax:   cfg.Realtime.BackoffMax,
		PingInterval: cfg.Realtime.PingInterval,
		Metrics:      realtime.NewMetrics(reg),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create realtime dialer: %w", err)
	}

	views := chat.NewViewManager(logger)
	unsubscribe := a.auth.Subscribe(func(s auth.State) {
		if s == auth.Unauthenticated {
			// Subscribers run inside a mutation; close views off that path.
			go views.CloseAll()
		}
	})
	defer unsubscribe()

	limiter := shared.NewRateLimiter(cfg.Chat.SendRateLimit, cfg.Chat.SendRateWindow)
	defer limiter.Stop()

	auth.StartExpiryWatcher(ctx, a.auth, cfg.TokenCheckInterval)

	handler := api.NewHandler(a.auth, a.backend, a.store, views, a.catalog, logger)
	streams := chatws.NewHandler(chatws.Config{
		Views: views,
		Deps: chat.Deps{
			History: a.backend,
			Open:    chat.DialerOpener(dialer),
			Session: a.auth,
			Logger:  logger,
		},
		Optimistic:    cfg.Chat.OptimisticSends,
		Limiter:       limiter,
		Catalog:       a.catalog,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})
	spa, err := web.SPAHandler(logger)
	if err != nil {
		return fmt.Errorf("load browser shell: %w", err)
	}
	requireSession := identity.RequireSession(a.auth, a.catalog)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handler.RegisterRoutes(r, requireSession)
	r.With(requireSession).Get("/ws/chats/{id}", streams.ServeHTTP)
	r.Handle("/*", spa)

	// Chat streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	views.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped successfully")
	return nil
}
