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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sygfp/spendchain/internal/budget"
	"github.com/sygfp/spendchain/internal/client"
	"github.com/sygfp/spendchain/internal/config"
	"github.com/sygfp/spendchain/internal/database"
	"github.com/sygfp/spendchain/internal/exercise"
	"github.com/sygfp/spendchain/internal/handler"
	"github.com/sygfp/spendchain/internal/permission"
	"github.com/sygfp/spendchain/internal/repository"
	"github.com/sygfp/spendchain/internal/sequence"
	"github.com/sygfp/spendchain/internal/service"
	"github.com/sygfp/spendchain/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.Info().
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting spendchain service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			// Notifications are fire-and-forget; a missing broker degrades
			// the service, it does not stop it.
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
			natsConn = nil
		} else {
			defer natsConn.Drain()
		}
	}

	// Repositories.
	docRepo := repository.NewDocumentRepository(db)
	eventRepo := repository.NewEventRepository(db)
	grantRepo := repository.NewGrantRepository(db)
	lineRepo := repository.NewBudgetLineRepository(db)
	seqRepo := repository.NewSequenceRepository(db)
	exerciseRepo := repository.NewExerciseRepository(db)

	// Domain components.
	resolver := permission.NewResolver(grantRepo)
	guard := exercise.NewGuard(exerciseRepo)
	reconciler := budget.NewReconciler(lineRepo, log)
	generator := sequence.NewGenerator(seqRepo)

	var attachments workflow.AttachmentChecker
	if cfg.Clients.AttachmentsURL != "" {
		attachments = client.NewAttachmentClient(cfg.Clients.AttachmentsURL)
	}
	notifier := client.NewNotificationPublisher(natsConn, log)

	engine := workflow.NewEngine(
		service.NewStore(docRepo, eventRepo),
		resolver,
		guard,
		reconciler,
		attachments,
		notifier,
		log,
	)

	// Services.
	documentService := service.NewDocumentService(docRepo, exerciseRepo, guard, generator, reconciler, resolver, log)
	chainService := service.NewChainService(engine, docRepo, eventRepo, lineRepo, resolver, log)

	var roles handler.RolesProvider
	if cfg.Clients.IdentityURL != "" {
		roles = client.NewIdentityClient(cfg.Clients.IdentityURL)
	}
	httpHandler := handler.NewHTTPHandler(documentService, chainService, generator, roles, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id", "X-User-Roles"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpHandler.Routes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Service stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()
	if cfg.Service.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return log
}
