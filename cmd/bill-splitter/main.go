package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/bill-splitter/internal/bill"
	"github.com/zombor/bill-splitter/internal/logging"
	"github.com/zombor/bill-splitter/internal/notify"
	"github.com/zombor/bill-splitter/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, fs, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(level)

	if err := run(cfg); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...", "driver", cfg.dbDriver, "path", cfg.dbPath)
	db, err := openDB(cfg.dbDriver, cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	scanner, err := newScanner(cfg)
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...", "path", cfg.storagePath)
	store, err := bill.NewLocalStorage(cfg.storagePath, cfg.publicURL)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []bill.Option{
		bill.WithMetrics(bill.NewMetrics(reg)),
		bill.WithScanTimeout(cfg.scanTimeout),
		bill.WithNotifyTimeout(cfg.webhookTimeout),
		bill.WithWorkers(cfg.workers, cfg.queueSize),
	}
	if cfg.webhookURL != "" {
		slog.Info("Bill-ready webhook enabled", "url", cfg.webhookURL)
		opts = append(opts, bill.WithNotifier(notify.NewWebhook(cfg.webhookURL, cfg.webhookTimeout)))
	}
	service := bill.NewService(db, scanner, store, opts...)

	server := bill.NewServer(service, bill.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	})
	server.SetMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	service.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, fmt.Sprintf(":%d", cfg.port))
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Draining extraction queue...")
		return service.Stop()
	})
	return g.Wait()
}

func openDB(driver, path string) (bill.DB, error) {
	switch driver {
	case "sqlite":
		return bill.NewSQLiteDB(path)
	default:
		return bill.NewBoltDB(path)
	}
}

func newScanner(cfg *config) (scanning.Scanner, error) {
	switch cfg.scannerType {
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel, cfg.scanTimeout)
	default:
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(cfg.geminiKey, cfg.geminiModel, cfg.scanTimeout)
	}
}
