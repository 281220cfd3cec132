package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/config"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/oracle"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/trade"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the trading API. Configuration is read from --config (if given)
and then overridden by PORT, DATABASE_URL, SQLITE_PATH, REDIS_URL,
SECRET_KEY, ORACLE_PROVIDER, INITIAL_BALANCE and LOG_LEVEL.`,
	RunE: runServe,
}

var serveConfigPath string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Price oracle ---
	prices, err := openOracle(cfg)
	if err != nil {
		return err
	}

	// --- Ledger and accounts ---
	if cfg.UsesDefaultSecret() {
		slog.Warn("auth.secret is the development default; set SECRET_KEY in production")
	}
	initialBalance, err := cfg.InitialBalance()
	if err != nil {
		return err
	}
	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	engine := ledger.NewEngine(st, prices, cfg.Oracle.Timeout)
	accounts := account.NewDirectory(st, tokens, initialBalance, cfg.Accounts.BcryptCost)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	// --- Trade service ---
	tradeSvc := trade.NewService(engine, accounts, tokens, wsHub, cfg.Accounts.Currency)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.AllowedOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	tradeSvc.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("trading-engine listening",
			"port", cfg.Server.Port,
			"storage", cfg.Storage.Driver,
			"oracle", cfg.Oracle.Provider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("trading-engine stopped")
	return nil
}

// openStore connects the configured backend and, when redis_url is set,
// wraps it in the read-through cache. The returned func releases every
// connection that was opened.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var st store.Store
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		lite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("opened SQLite database", "path", cfg.Storage.SQLitePath)

	default:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
	}

	return st, closeAll, nil
}

func openOracle(cfg *config.Config) (oracle.Oracle, error) {
	if cfg.Oracle.Provider == config.ProviderStatic {
		prices, err := cfg.StaticPrices()
		if err != nil {
			return nil, err
		}
		slog.Warn("using static price table", "symbols", len(prices))
		return oracle.NewStatic(prices), nil
	}
	// The HTTP client gets slack over the engine's quote timeout so the
	// engine's deadline is the one that fires.
	return oracle.NewYahoo(cfg.Oracle.BaseURL, cfg.Oracle.Timeout+time.Second), nil
}

func setupLogging(cfg *config.Config) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// cors allows cross-origin requests from origin for the browser frontend.
func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
