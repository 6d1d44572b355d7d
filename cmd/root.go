package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gocloud.dev/blob"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/db"
	"github.com/brensch/lscollection/internal/metrics"
	"github.com/brensch/lscollection/internal/orchestrator"
	"github.com/brensch/lscollection/internal/products"
	"github.com/brensch/lscollection/internal/store"
)

var (
	// Config flags - bound in init()
	cfgFile       string
	listFile      string
	walk          bool
	outputDir     string
	storeURL      string
	dbPath        string
	workers       int
	parallel      int
	pqDenominator string
	includeSystem bool
	metricsFile   string
	logFormat     string
	logLevel      string
	logOutput     string

	// Command specific flags copied into the config
	onlyPartitions []int
	resume         bool

	// Global instances populated in PersistentPreRunE
	rootLogger  *slog.Logger
	dbConn      *sql.DB
	bucket      *blob.Bucket
	appMetrics  *metrics.Metrics
	appConfig   config.Config
	logFileSink *os.File
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lscollection",
	Short: "Measure how completely Landsat passes were processed into derived products.",
	Long: `lscollection harvests the per-scene processing logs of the Landsat archive,
predicts the NBAR, NBART and PQ products each scene should have produced, checks
whether they exist and summarises completeness per sensor and month.

The primary command is 'run', which harvests, combines and summarises in one go.
The phases can also be run separately, and a DuckDB event log records every run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			return fmt.Errorf("unknown log level %q", logLevel)
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logFileSink = f
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load/Validate Config (from flags and layout file) ---
		layout, err := config.LoadLayout(cfgFile)
		if err != nil {
			return err
		}
		appConfig = config.Config{
			ListFile:      listFile,
			Walk:          walk,
			OutputDir:     outputDir,
			StoreURL:      storeURL,
			DbPath:        dbPath,
			NumWorkers:    workers,
			Parallel:      parallel,
			Only:          onlyPartitions,
			Resume:        resume,
			PQDenominator: strings.ToLower(pqDenominator),
			IncludeSystem: includeSystem,
			MetricsFile:   metricsFile,
			Layout:        layout,
		}
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

		if err := os.MkdirAll(appConfig.OutputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", appConfig.OutputDir, err)
		}
		if appConfig.DbPath != ":memory:" {
			dbDir := filepath.Dir(appConfig.DbPath)
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		// --- 3. Initialize DuckDB Event Log ---
		rootLogger.Debug("Initializing DuckDB connection", "path", appConfig.DbPath)
		dbConn, err = db.Open(appConfig.DbPath)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err = dbConn.PingContext(pingCtx); err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to ping duckdb database (%s): %w", appConfig.DbPath, err)
		}
		if err := db.InitializeSchema(dbConn); err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}

		// --- 4. Partial Store Bucket & Metrics ---
		location := appConfig.StoreURL
		if location == "" {
			location = appConfig.OutputDir
		}
		bucket, err = store.OpenBucket(cmd.Context(), location)
		if err != nil {
			return err
		}
		appMetrics = metrics.New()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeAll()
	},
}

// closeAll releases what PersistentPreRunE opened. It runs on failure too,
// since cobra skips PersistentPostRunE when RunE fails.
func closeAll() error {
	logger := getLogger()
	var firstErr error
	if appMetrics != nil && appConfig.MetricsFile != "" {
		if err := appMetrics.WriteTextfile(appConfig.MetricsFile); err != nil {
			logger.Error("Failed to write metrics", "error", err)
			firstErr = err
		}
		appMetrics = nil
	}
	if bucket != nil {
		if err := bucket.Close(); err != nil {
			logger.Error("Failed to close partial store", "error", err)
		}
		bucket = nil
	}
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			logger.Error("Failed to close DuckDB connection cleanly", "error", err)
		}
		dbConn = nil
	}
	if logFileSink != nil {
		logFileSink.Close()
		logFileSink = nil
	}
	return firstErr
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(combineCmd)
	rootCmd.AddCommand(summariseCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(stateCmd)

	err := rootCmd.Execute()
	if err != nil {
		closeAll()
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML layout file overriding the default archive layout")
	pf.StringVarP(&listFile, "list-file", "l", "", "File listing lpgs_out.xml paths, one per line")
	pf.BoolVar(&walk, "walk", false, "Walk the level1 directory of every sensor for processing logs")
	pf.StringVarP(&outputDir, "output-dir", "o", "./output", "Directory for the canonical and summary stores")
	pf.StringVar(&storeURL, "store-url", "", "Bucket URL for partial stores (file://, s3://, gs://, mem://); defaults to --output-dir")
	pf.StringVarP(&dbPath, "db-path", "d", "./lscollection_state.duckdb", "Path to DuckDB event log file (:memory: for in-memory)")
	pf.IntVarP(&workers, "workers", "w", config.DefaultNumWorkers, "Number of partitions the input is scattered over")
	pf.IntVar(&parallel, "parallel", 0, "Partitions harvested at once (default: --workers)")
	pf.StringVar(&pqDenominator, "pq-denominator", config.PQDenominatorNBAR, "Denominator of PQ completeness (nbar or l1)")
	pf.BoolVar(&includeSystem, "include-system", true, "Count systematic (SYS) scenes in the monthly summary")
	pf.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

// Helper to get logger
func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

// Helper to get Config
func getConfig() config.Config {
	return appConfig
}

// getDeps bundles the collaborators every phase shares.
func getDeps() orchestrator.Deps {
	return orchestrator.Deps{
		DB:      dbConn,
		Store:   store.New(bucket, appConfig.Layout),
		Prober:  products.OSProber{},
		Metrics: appMetrics,
		Logger:  getLogger(),
	}
}

// newRunID stamps partial manifests and event log rows of one invocation.
func newRunID() string {
	return uuid.NewString()
}
