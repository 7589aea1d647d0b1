// coachbot - Telegram coaching bot server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/coachbot/internal/agent"
	"github.com/ashureev/coachbot/internal/api"
	"github.com/ashureev/coachbot/internal/config"
	"github.com/ashureev/coachbot/internal/coordinator"
	"github.com/ashureev/coachbot/internal/entitlement"
	"github.com/ashureev/coachbot/internal/identity"
	"github.com/ashureev/coachbot/internal/interview"
	"github.com/ashureev/coachbot/internal/middleware"
	"github.com/ashureev/coachbot/internal/payment"
	"github.com/ashureev/coachbot/internal/persistence"
	"github.com/ashureev/coachbot/internal/scenario"
	"github.com/ashureev/coachbot/internal/session"
	"github.com/ashureev/coachbot/internal/store"
	"github.com/ashureev/coachbot/internal/telegram"
	"github.com/ashureev/coachbot/internal/wschat"
	"github.com/ashureev/coachbot/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown LOG_LEVEL, using info", "value", cfg.LogLevel)
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"telegram_mode", cfg.Telegram.Mode,
		"store", cfg.Store.Driver,
		"payments", cfg.Payment.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store.
	repo, err := store.Open(store.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.DBPath,
		DSN:    cfg.Store.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	// Scenario catalog.
	registry, err := scenario.NewRegistry(cfg.Scenarios.Path, logger)
	if err != nil {
		return fmt.Errorf("load scenario catalog: %w", err)
	}
	slog.Info("Scenario catalog loaded",
		"path", cfg.Scenarios.Path,
		"scenarios", registry.Catalog().IDs(),
		"default", registry.Catalog().Default().ID)

	// Completion provider.
	completer, err := agent.NewCompleter(ctx, agent.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("initialize completion provider: %w", err)
	}
	conversation := agent.NewService(completer, agent.ServiceConfig{
		Timeout:      cfg.LLM.Timeout,
		HistoryTurns: cfg.HistoryTurns,
		HistoryCap:   cfg.HistoryCap,
	}, logger)
	slog.Info("Completion provider initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// Session state.
	sessions := session.NewStore()
	dispatcher := session.NewDispatcher(cfg.MailboxQueueSize, cfg.MailboxIdleTimeout, logger)
	persist := persistence.NewAdapter(repo, persistence.Options{
		Window:    cfg.Store.SaveDebounce,
		Retention: time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour,
		QuestionCount: func(id string) int {
			return registry.Lookup(id).QuestionCount()
		},
		Logger: logger,
	})

	// Outbound transports.
	var tg *telegram.Client
	if cfg.TelegramEnabled() {
		tg, err = telegram.NewClient(telegram.ClientConfig{
			Token:         cfg.Telegram.Token,
			APIURL:        cfg.Telegram.APIURL,
			ProviderToken: cfg.Payment.ProviderToken,
			RateLimit:     cfg.Telegram.RateLimit,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("initialize telegram client: %w", err)
		}
	}

	var sender coordinator.Sender
	var conns *wschat.ConnManager
	if cfg.DevChat.Enabled {
		conns = wschat.NewConnManager(logger)
		var fallback wschat.Sender
		if tg != nil {
			fallback = tg
		}
		sender = wschat.NewRouter(conns, fallback)
	} else {
		sender = tg
	}

	engine := entitlement.NewEngine(cfg.DefaultDailyLimit, cfg.Location())

	var invoices coordinator.InvoiceCreator
	if cfg.Payment.Provider == coordinator.PaymentYooKassa {
		invoices = payment.NewInvoiceClient(cfg.Payment.APIURL, cfg.Payment.ShopID, cfg.Payment.SecretKey, cfg.Payment.ReturnURL)
	}

	coord := coordinator.New(coordinator.Deps{
		Store:        sessions,
		Dispatcher:   dispatcher,
		Scenarios:    registry,
		Interview:    interview.NewFlow(),
		Entitlements: engine,
		Conversation: conversation,
		Persistence:  persist,
		Reconciler:   payment.NewReconciler(),
		Sender:       sender,
		Invoices:     invoices,
		Admins:       identity.NewAdmins(cfg.AdminID),
	}, coordinator.Config{
		PaymentProvider: cfg.Payment.Provider,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Location:        cfg.Location(),
		Logger:          logger,
	})

	restored, err := coord.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	slog.Info("Sessions restored", "count", restored)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	api.NewHealthHandler(repo, 5*time.Second).RegisterHealth(r)
	api.NewAdminHandler(sessions, dispatcher, engine, registry, coord, cfg.AdminAPIToken, logger).RegisterRoutes(r)

	var events telegram.EventHandler
	if tg != nil {
		events = coord
	}
	mountWebhooks(r, cfg, events, coord, logger)

	if conns != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.CORS([]string{"*"}))
			r.Get("/ws/chat", wschat.NewHandler(coord, conns, "*", cfg.IsDevelopment(), logger).ServeHTTP)
			r.Handle("/*", web.Handler())
		})
		slog.Info("Dev chat enabled", "path", "/ws/chat")
	}

	// Create server. WebSocket connections are long-lived, so there is no
	// write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		if conns != nil {
			conns.CloseAll()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		persistence.RunWorker(gctx, persist, sessions, persistence.WorkerConfig{
			FlushInterval: cfg.Store.FlushInterval,
			PruneInterval: cfg.Store.PruneInterval,
			RetentionDays: cfg.Store.RetentionDays,
			Serialize: func(ctx context.Context, userID int64, fn func(context.Context)) error {
				return dispatcher.Do(ctx, userID, fn)
			},
		})
		return nil
	})

	if tg != nil {
		switch cfg.Telegram.Mode {
		case config.TelegramPolling:
			poller := telegram.NewPoller(tg, coord, logger)
			g.Go(func() error { return poller.Run(gctx) })
		default:
			registrar := telegram.NewRegistrar(tg, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret,
				cfg.Telegram.WebhookRefresh, logger)
			g.Go(func() error { return registrar.Run(gctx) })
		}
	}

	if cfg.Scenarios.Watch {
		g.Go(func() error { return registry.Watch(gctx) })
	}

	if cfg.GRPCHealthPort != "" {
		health := api.NewGRPCHealth(":"+cfg.GRPCHealthPort, logger)
		g.Go(func() error { return health.Run(gctx) })
	}

	runErr := g.Wait()

	// Intake has stopped; drain the mailboxes and flush every session.
	if err := coord.Shutdown(context.Background()); err != nil {
		slog.Error("Coordinator shutdown incomplete", "error", err)
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
