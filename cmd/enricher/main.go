package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"lead-enricher/internal/app"
	"lead-enricher/internal/config"
	"lead-enricher/internal/logging"
	"lead-enricher/internal/util"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "enrich":
		os.Exit(runEnrich(ctx, os.Args[2:]))
	case "sweep":
		os.Exit(runSweep(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runEnrich(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var inputPath string
	var outputPath string
	fs.StringVar(&inputPath, "input", "", "Input CSV file path (must include an 'email' column)")
	fs.StringVar(&outputPath, "output", "", "Output CSV file path")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of concurrent row workers (env: WORKERS)")
	fs.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "Ceiling on in-flight API requests (env: MAX_CONCURRENT_REQUESTS)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Max retries per lookup for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Per-request timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", cfg.RateLimitRPS, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Cache entry lifetime (env: CACHE_TTL)")
	fs.StringVar(&cfg.CacheBackend, "cache-backend", cfg.CacheBackend, "Cache backend: fs, sqlite or redis (env: CACHE_BACKEND)")
	fs.StringVar(&cfg.MappingPath, "mapping", cfg.MappingPath, "Field mapping YAML path, empty uses the built-in mapping (env: FIELD_MAPPING_PATH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error (env: LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" || outputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "enrich requires --input and --output")
		return 2
	}

	logger, err := logging.New(cfg.LogLevel, nil)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := app.RunLocal(ctx, cfg, inputPath, outputPath, logger); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "enrich run failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	return 0
}

func runSweep(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", util.RedactSecrets(err.Error()))
		return 2
	}

	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var schedule string
	var once bool
	fs.StringVar(&schedule, "schedule", cfg.SweepSchedule, "Cron schedule for repeated sweeps (env: CACHE_SWEEP_SCHEDULE)")
	fs.BoolVar(&once, "once", false, "Run a single sweep and exit")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Cache entry lifetime (env: CACHE_TTL)")
	fs.StringVar(&cfg.CacheBackend, "cache-backend", cfg.CacheBackend, "Cache backend: fs, sqlite or redis (env: CACHE_BACKEND)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error (env: LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if once {
		schedule = ""
	}

	logger, err := logging.New(cfg.LogLevel, nil)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := app.RunSweep(ctx, cfg, schedule, logger); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sweep failed: %s\n", util.RedactSecrets(err.Error()))
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `enricher: lead enrichment via the CoreSignal API with a durable response cache

Usage:
  enricher <command> [flags]

Commands:
  enrich   Enrich a CSV of leads (email column required) into an output CSV
  sweep    Delete expired cache entries, once or on a cron schedule

Examples:
  enricher enrich --input leads.csv --output enriched.csv
  enricher sweep --once

Environment:
  CORESIGNAL_API_KEY    API key (required for enrich)
  CORESIGNAL_BASE_URL   API base URL override (proxies/testing)
  CACHE_BACKEND         fs (default), sqlite or redis
  CACHE_DIR             Cache directory for the fs backend
  CACHE_SQLITE_PATH     Database path for the sqlite backend
  CACHE_REDIS_ADDR      Address for the redis backend
  CACHE_TTL             Cache entry lifetime (default 168h)
  FRESHNESS_THRESHOLD   Age beyond which cached data is flagged stale (default 24h)
  FIELD_MAPPING_PATH    Field mapping YAML override
  LOG_LEVEL             debug, info, warn or error

`)
}
