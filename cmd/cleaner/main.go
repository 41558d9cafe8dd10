package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/usercleaner/internal/config"
	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/JonMunkholm/usercleaner/internal/export"
	"github.com/JonMunkholm/usercleaner/internal/logging"
	"github.com/JonMunkholm/usercleaner/internal/metrics"
	"github.com/JonMunkholm/usercleaner/internal/pipeline"
	"github.com/JonMunkholm/usercleaner/internal/sink"
	"github.com/JonMunkholm/usercleaner/internal/source"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("an error occurred",
			"error", err,
			"code", core.MapError(err).Code,
			"detail", core.Describe(err),
		)
		os.Exit(1)
	}
}

func run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := logging.FromContext(ctx)

	log.Info("configuration loaded",
		"input", cfg.Input.Path,
		"encoding", cfg.Input.Encoding,
		"output", cfg.Output.Path,
		"rejected", cfg.Output.RejectedPath,
		"export_enabled", cfg.Database.Enabled(),
	)

	reg := prometheus.NewRegistry()
	deps := pipeline.Deps{
		Source: &source.CSVSource{
			Path:      cfg.Input.Path,
			Delimiter: cfg.InputDelimiter(),
			Encoding:  cfg.Input.Encoding,
		},
		Sink: &sink.CSVSink{
			OutputPath:   cfg.Output.Path,
			RejectedPath: cfg.Output.RejectedPath,
			Delimiter:    cfg.OutputDelimiter(),
		},
		Metrics:    metrics.NewCollector(reg),
		SourcePath: cfg.Input.Path,
	}

	if cfg.Database.Enabled() {
		exp := &dbExporter{cfg: cfg.Database}
		defer exp.Close()
		deps.Exporter = exp
	}

	service, err := pipeline.NewService(deps)
	if err != nil {
		return err
	}

	_, runErr := service.Run(ctx)

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
			log.Warn("failed to write metrics", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	return runErr
}

// dbExporter connects on first use so that output files are written even
// when the database is unreachable.
type dbExporter struct {
	cfg  config.DatabaseConfig
	pool *pgxpool.Pool
}

func (e *dbExporter) Export(ctx context.Context, run export.Run, res core.Result) (export.Stats, error) {
	if e.pool == nil {
		pool, err := connect(ctx, e.cfg)
		if err != nil {
			return export.Stats{}, err
		}
		e.pool = pool
	}
	return export.NewPostgres(e.pool, e.cfg.CopyBatchSize, e.cfg.ExportTimeout).Export(ctx, run, res)
}

func (e *dbExporter) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// connect opens the export pool and brings the schema up to date.
func connect(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	log := logging.FromContext(ctx)

	migrateCtx, cancel := context.WithTimeout(ctx, dbCfg.ExportTimeout)
	defer cancel()
	if err := export.RunMigrations(migrateCtx, dbCfg.URL); err != nil {
		return nil, err
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database URL: %w", core.ErrExport, err)
	}
	poolConfig.MaxConns = int32(dbCfg.MaxConns)
	poolConfig.MinConns = int32(dbCfg.MinConns)
	poolConfig.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbCfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", core.ErrExport, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", core.ErrExport, err)
	}

	// Log which database we connected to
	if u, err := url.Parse(dbCfg.URL); err == nil {
		log.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		log.Info("connected to database")
	}
	return pool, nil
}
