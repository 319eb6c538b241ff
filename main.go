package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pulse/internal/aggregate"
	"github.com/roniherschmann/go-pulse/internal/auth"
	"github.com/roniherschmann/go-pulse/internal/circuitbreaker"
	"github.com/roniherschmann/go-pulse/internal/config"
	"github.com/roniherschmann/go-pulse/internal/core"
	httpapi "github.com/roniherschmann/go-pulse/internal/http"
	"github.com/roniherschmann/go-pulse/internal/maintenance"
	"github.com/roniherschmann/go-pulse/internal/ratelimit"
	"github.com/roniherschmann/go-pulse/internal/store"
)

// Set via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// Fast JSON logs by default; pretty if running in a TTY/dev
	if isatty() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "validate":
		os.Exit(runValidate(args))
	case "config":
		os.Exit(runConfig(args))
	case "version":
		fmt.Printf("pulse %s (%s)\n", version, commit)
		os.Exit(exitSuccess)
	case "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`pulse - behavioral analytics collector

Usage:
  pulse [command] [-config file.yaml] [-dsn DSN]

Commands:
  serve      Start the HTTP server and maintenance jobs (default)
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  PORT                       HTTP port (default: 8080)
  DB_DSN                     SQLite DSN or postgres:// URL
  ADMIN_TOKEN                Static bearer token for the metrics API
  ADMIN_EMAILS               Comma-separated identity allowlist
  OIDC_ISSUER                OIDC issuer URL (replaces ADMIN_TOKEN)
  OIDC_CLIENT_ID             Expected token audience
  REDIS_ADDR                 Shared admission control backend (optional)
  INGEST_RATE_LIMIT          Ingest requests per window (default: 120)
  INGEST_RATE_WINDOW         (default: 1m)
  QUERY_RATE_LIMIT           Query requests per window (default: 60)
  QUERY_RATE_WINDOW          (default: 1m)
  SOURCE_TIMEOUT             Per aggregation source timeout (default: 3s)
  DB_OP_TIMEOUT              Per insert timeout (default: 2s)
  CIRCUIT_BREAKER_THRESHOLD  0 disables (default: 5)
  QUERY_CACHE_TTL            0 disables (default: 30s)
  RETENTION_DAYS             Raw event retention (default: 90)`)
}

func loadConfig(name string, args []string) (config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var path, dsn string
	fs.StringVar(&path, "config", "", "YAML config file")
	fs.StringVar(&dsn, "dsn", "", "Database DSN (overrides env DB_DSN)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if dsn != "" {
		cfg.DBDSN = dsn
	}
	return cfg, nil
}

func runValidate(args []string) int {
	cfg, err := loadConfig("validate", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	fmt.Println("configuration is valid")
	return exitSuccess
}

func runConfig(args []string) int {
	cfg, err := loadConfig("config", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	out, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "render config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(out))
	return exitSuccess
}

func runServe(args []string) int {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open(cfg.Driver(), cfg.DBDSN)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Driver()).Msg("open database")
		return exitRuntimeError
	}
	defer db.Close()

	// Connection pool tuning
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	var (
		st        store.Store
		pg        *store.Postgres
		sources   []aggregate.Source
		scheduler = maintenance.New(5 * time.Minute)
	)
	if cfg.Driver() == "postgres" {
		pg = store.NewPostgres(db)
		st = pg
		if cfg.ProceduresEnabled {
			sources = append(sources, aggregate.NewProcedureSource(pg))
		}
	} else {
		st = store.NewSQLite(db)
	}
	if cfg.RawEnabled {
		sources = append(sources, aggregate.NewRawSource(st))
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx, db, st.Dialect()); err != nil {
			log.Error().Err(err).Msg("migrate schema")
			return exitRuntimeError
		}
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	agg := aggregate.NewAggregator(aggregate.Options{
		SourceTimeout: cfg.SourceTimeout,
		Breaker:       breaker,
		CacheSize:     cfg.CacheSize,
		CacheTTL:      cfg.CacheTTL,
	}, sources...)
	svc := core.NewService(st, agg, core.Options{
		Concurrency:  cfg.IngestConcurrency,
		WriteTimeout: cfg.DBOpTimeout,
	})
	log.Info().Strs("sources", agg.Sources()).Str("driver", cfg.Driver()).Msg("aggregation configured")

	var limiter ratelimit.Admitter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable; admission fails open until it recovers")
		}
		pingCancel()
		limiter = ratelimit.NewRedis(rdb, "")
	} else {
		sw := ratelimit.NewSlidingWindow()
		limiter = sw
		if err := scheduler.Add(maintenance.Sweep(sw, cfg.SweepSchedule)); err != nil {
			log.Error().Err(err).Msg("schedule sweep")
			return exitRuntimeError
		}
	}

	var (
		verifier auth.Verifier
		allowed  []string
	)
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			log.Error().Err(err).Msg("oidc setup")
			return exitRuntimeError
		}
		verifier = v
		allowed = cfg.AdminEmails
	} else {
		verifier = auth.NewStaticVerifier(cfg.AdminToken, "")
	}
	authz := auth.NewAuthorizer(verifier, allowed)

	if err := scheduler.Add(maintenance.Purge(st, cfg.RetentionDays, cfg.PurgeSchedule, time.Now)); err != nil {
		log.Error().Err(err).Msg("schedule purge")
		return exitRuntimeError
	}
	if pg != nil && cfg.ProceduresEnabled {
		if err := scheduler.Add(maintenance.Refresh(pg, cfg.RefreshSchedule)); err != nil {
			log.Error().Err(err).Msg("schedule refresh")
			return exitRuntimeError
		}
	}
	scheduler.Start()

	// HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpapi.NewRouter(cfg, svc, limiter, authz),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	code := exitSuccess
	select {
	case <-quit:
		log.Info().Msg("shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server")
		code = exitRuntimeError
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	scheduler.Stop(shutdownCtx)
	log.Info().Msg("bye")
	return code
}

func isatty() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
