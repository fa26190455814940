// Command navigator serves the narratives dashboard.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"navigator/internal/app"
	"navigator/internal/auth"
	"navigator/internal/cache"
	"navigator/internal/config"
	"navigator/internal/header"
	"navigator/internal/listing"
	logpkg "navigator/internal/logger"
	"navigator/internal/profile"
	"navigator/internal/search"
	"navigator/internal/session"
	"navigator/internal/store"
	"navigator/internal/view"
	"navigator/internal/workspace"
)

var configPath string

func main() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:           "navigator",
		Short:         "Browse, search and preview KBase narratives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NAVIGATOR_CONFIG"), "Path to a YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(reindexCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logpkg.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func openDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	for _, name := range applied {
		logger.Info("migration applied", zap.String("version", name))
	}
	return db, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the search read model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("schema is up to date", zap.String("dir", cfg.MigrationsDir))
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Load newline-delimited narrative documents into the read model",
		Long: `Reads one JSON narrative document per line from the file, or from stdin
when no file is given, and upserts them into PostgreSQL. Run reindex
afterwards to push them to Meilisearch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			in := os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			db, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.NewNarrativeStore(db).Import(cmd.Context(), in)
			if err != nil {
				return err
			}
			logger.Info("narratives imported", zap.Int("count", n))
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every narrative in PostgreSQL to Meilisearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return errors.New("MEILI_URL is not set")
			}
			db, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			svc := search.NewService(meili, search.NewPgFTS(db), logger)
			defer svc.Close()

			n, err := svc.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("reindex complete", zap.Int("count", n))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var checks []app.ReadyCheck

	var pgfts *search.PgFTS
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		pgfts = search.NewPgFTS(db)
	}
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meili, pgfts, logger)
	defer searchService.Close()

	if meili != nil {
		checks = append(checks, app.ReadyCheck{Name: "meilisearch", Check: func(context.Context) error {
			if _, healthy := searchService.MeiliHealthy(); !healthy {
				return search.ErrUnavailable
			}
			return nil
		}})
	}
	if pgfts != nil {
		checks = append(checks, app.ReadyCheck{Name: "database", Check: func(ctx context.Context) error {
			_, err := searchService.PingDatabase(ctx)
			return err
		}})
	}

	// Without Redis, identities are not cached and result pages live in
	// process memory.
	var (
		identities session.Store
		caches     cache.Store
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for identities and result pages")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		identities = redisStore

		redisCache, err := cache.NewRedis(cfg.RedisURL, cfg.SessionTTL, cfg.MaxCachedPages, logger)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		caches = redisCache
		checks = append(checks, app.ReadyCheck{Name: "redis", Check: redisCache.Ping})
	} else {
		caches = cache.NewMemory(cfg.MaxSessions, cfg.MaxCachedPages)
	}

	authClient := auth.NewClient(cfg.ServiceRoutes.Auth, cfg.UpstreamTimeout, identities, cfg.IdentityCacheTTL, logger)
	workspaceClient := workspace.NewClient(cfg.ServiceRoutes.Workspace, cfg.UpstreamTimeout, logger)
	profileClient := profile.NewClient(cfg.ServiceRoutes.UserProfile, cfg.UpstreamTimeout)

	renderer, err := view.New(cfg.URLPrefix)
	if err != nil {
		return err
	}

	httpServer := app.NewHTTPServer(app.Deps{
		Config:     cfg,
		Search:     searchService,
		Registry:   listing.NewRegistry(searchService, workspaceClient, caches, cfg.MaxSessions, logger),
		Caches:     caches,
		Narratives: workspaceClient,
		Users:      authClient,
		Header:     header.NewBuilder(cfg.Title, cfg.HostRoot, cfg.URLPrefix, authClient, profileClient, logger),
		Renderer:   renderer,
		Checks:     checks,
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2*cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("navigator listening", zap.String("addr", cfg.Addr), zap.String("url_prefix", cfg.URLPrefix))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
