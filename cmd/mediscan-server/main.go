package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediscan/mediscan/internal/config"
	"github.com/mediscan/mediscan/internal/domain/assistant"
	"github.com/mediscan/mediscan/internal/domain/dashboard"
	"github.com/mediscan/mediscan/internal/domain/intake"
	"github.com/mediscan/mediscan/internal/domain/records"
	"github.com/mediscan/mediscan/internal/domain/registration"
	"github.com/mediscan/mediscan/internal/domain/registry"
	"github.com/mediscan/mediscan/internal/platform/auth"
	"github.com/mediscan/mediscan/internal/platform/blobstore"
	"github.com/mediscan/mediscan/internal/platform/db"
	"github.com/mediscan/mediscan/internal/platform/events"
	"github.com/mediscan/mediscan/internal/platform/middleware"
	"github.com/mediscan/mediscan/internal/platform/notification"
	"github.com/mediscan/mediscan/internal/platform/session"
	"github.com/mediscan/mediscan/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediscan-server",
		Short: "MediScan patient intake API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MediScan API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run registry database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, os.DirFS(migrationsDir(dir, cfg)))
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	upCmd.Flags().Int("to", 0, "Stop after this version")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, os.DirFS(migrationsDir(dir, cfg)))
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo patients into the registry database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			added, err := registry.Seed(ctx, registry.NewPatientRepo(pool))
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d patient(s).\n", added)
			return nil
		},
	}
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logger
	logger := newLogger(cfg)

	ctx := context.Background()

	// Registry database; without DATABASE_URL the registry lives in memory.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to registry database")
	}
	repo := newPatientRepo(pool)
	if added, err := registry.Seed(ctx, repo); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed registry")
	} else if added > 0 {
		logger.Info().Int("patients", added).Msg("seeded registry")
	}

	// Sessions and token revocations move to Redis when REDIS_URL is set so
	// several server instances can share them.
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		client, err := session.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create redis client")
		}
		redisClient = client
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		logger.Info().Msg("connected to redis")
	}
	store := newSessionStore(cfg, redisClient)

	// Image storage
	blobs, err := newBlobStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create blob store")
	}

	// Events: in-process subscribers, websocket clients and, when
	// configured, the AMQP exchange.
	bus := events.NewBus()
	hub := websocket.NewHub(logger)
	publishers := events.Multi{bus, hub}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to AMQP broker")
		}
		defer amqpPub.Close()
		publishers = append(publishers, amqpPub)
	}

	notifications := notification.NewManager(notification.NewTemplateEngine(), notification.DefaultCapacity)
	tracker := dashboard.NewTracker(notifications, logger)
	tracker.Subscribe(bus)

	// Intake workflow
	registrySvc := registry.NewService(repo, logger)
	lookup, err := newLookup(cfg, repo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create patient lookup")
	}
	intakeSvc := intake.NewService(intake.Deps{
		Store:     store,
		Blobs:     blobs,
		Extractor: newExtractor(cfg, logger),
		Lookup:    lookup,
		Registry:  registrySvc,
		IDs:       registration.NewIDGenerator(rand.New(rand.NewSource(time.Now().UnixNano())), time.Now),
		Events:    publishers,
	}, intake.Config{
		StepInterval:  cfg.OCRStepInterval,
		CompleteDelay: cfg.OCRCompleteDelay,
	}, logger)
	defer intakeSvc.Shutdown()
	if ms, ok := store.(*session.MemoryStore); ok {
		ms.OnExpire(intakeSvc.Expire)
		defer ms.Close()
	}

	responses, err := assistant.LoadResponses()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load assistant responses")
	}
	assistantSvc := assistant.New(responses, cfg.AssistantDelay, logger)

	// Auth
	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}
	authn := auth.NewAuthenticator(cfg.DemoPassword)
	tokens := auth.NewTokenIssuer(signingKey, "mediscan", cfg.JWTTTL)
	revocations, closeRevocations := newRevocations(redisClient)
	defer closeRevocations()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M", "12M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(tokens.Middleware(auth.AuthSkipper, revocations))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var healthChecks []db.Check
	if redisClient != nil {
		healthChecks = append(healthChecks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	e.GET("/health/db", db.HealthHandler(pool, healthChecks...))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	auth.NewHandler(authn, tokens, revocations, logger).RegisterRoutes(apiV1)
	registry.NewHandler(registrySvc).RegisterRoutes(apiV1)
	records.NewHandler(registrySvc).RegisterRoutes(apiV1)
	intakeHandler := intake.NewHandler(intakeSvc)
	intakeHandler.RegisterRoutes(apiV1)
	assistant.NewHandler(assistantSvc).RegisterRoutes(apiV1)
	dashboard.NewHandler(tracker, notifications).RegisterRoutes(apiV1)
	notification.NewHandler(notifications).RegisterRoutes(apiV1)
	blobstore.NewHandler(blobs).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, intakeHandler.AuthorizeTopic).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("ocr_mode", cfg.OCRMode).Str("match_mode", cfg.MatchMode).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newPatientRepo(pool *pgxpool.Pool) registry.Repository {
	if pool == nil {
		return registry.NewMemoryRepo()
	}
	return registry.NewPatientRepo(pool)
}

func newSessionStore(cfg *config.Config, client redis.UniversalClient) session.Store {
	if client == nil {
		return session.NewMemoryStore(cfg.SessionTTL)
	}
	return session.NewRedisStore(client, cfg.SessionTTL, cfg.SessionLockTTL)
}

// newRevocations returns the logout revocation list and a func that releases
// it.
func newRevocations(client redis.UniversalClient) (auth.Revocations, func()) {
	if client == nil {
		mem := auth.NewTokenRevocationStore()
		return mem, mem.Close
	}
	return auth.NewRedisRevocationStore(client), func() {}
}

func newBlobStore(cfg *config.Config, logger zerolog.Logger) (blobstore.BlobStore, error) {
	if cfg.BlobBackend != "s3" {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	return blobstore.NewS3BlobStore(blobstore.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
		Prefix:   "id-images/",
	}, logger)
}

// newLookup picks the patient lookup. MATCH_MODE=demo reproduces the kiosk
// demo: a seeded coin flip between the sample patient and a new one.
func newLookup(cfg *config.Config, repo registry.Repository, logger zerolog.Logger) (registry.Lookup, error) {
	if cfg.MatchMode != "demo" {
		return registry.NewRegistryLookup(repo, registry.NewMatcher(), logger), nil
	}
	demo, err := registry.DemoPatient()
	if err != nil {
		return nil, err
	}
	seed := cfg.MatchSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return registry.NewRandomLookup(rand.New(rand.NewSource(seed)), demo.Summary()), nil
}

func newExtractor(cfg *config.Config, logger zerolog.Logger) intake.Extractor {
	if cfg.OCRMode == "remote" {
		return intake.NewRemoteExtractor(cfg.OCRURL, 30*time.Second, logger)
	}
	return intake.StubExtractor{}
}
