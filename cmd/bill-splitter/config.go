package main

import (
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
)

type config struct {
	port           int
	dbDriver       string
	dbPath         string
	storagePath    string
	publicURL      string
	scannerType    string
	geminiKey      string
	geminiModel    string
	ollamaURL      string
	ollamaModel    string
	scanTimeout    time.Duration
	webhookURL     string
	webhookTimeout time.Duration
	workers        int
	queueSize      int
	authUser       string
	authPass       string
	logLevel       string
	showVersion    bool
}

// parseConfig reads flags, then BILL_SPLITTER_* env vars
func parseConfig(args []string) (*config, *ff.FlagSet, error) {
	fs := ff.NewFlagSet("bill-splitter")
	var (
		port           = fs.IntLong("port", 8000, "HTTP server port")
		dbDriver       = fs.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'sqlite'")
		dbPath         = fs.StringLong("db", "bill-splitter.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./receipts", "Storage directory path")
		publicURL      = fs.StringLong("public-url", "http://localhost:8000", "Externally reachable base URL for stored images")
		scannerType    = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY / GOOGLE_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		scanTimeout    = fs.DurationLong("scan-timeout", 60*time.Second, "Maximum time for one receipt extraction")
		webhookURL     = fs.StringLong("webhook-url", "", "URL notified when a bill is ready (optional)")
		webhookTimeout = fs.DurationLong("webhook-timeout", 10*time.Second, "Maximum time for one webhook call")
		workers        = fs.IntLong("workers", 4, "Number of background extraction workers")
		queueSize      = fs.IntLong("queue-size", 64, "Extraction jobs buffered before uploads are refused")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("BILL_SPLITTER"),
	); err != nil {
		return nil, fs, err
	}

	cfg := &config{
		port:           *port,
		dbDriver:       *dbDriver,
		dbPath:         *dbPath,
		storagePath:    *storagePath,
		publicURL:      *publicURL,
		scannerType:    *scannerType,
		geminiKey:      *geminiKey,
		geminiModel:    *geminiModel,
		ollamaURL:      *ollamaURL,
		ollamaModel:    *ollamaModel,
		scanTimeout:    *scanTimeout,
		webhookURL:     *webhookURL,
		webhookTimeout: *webhookTimeout,
		workers:        *workers,
		queueSize:      *queueSize,
		authUser:       *authUser,
		authPass:       *authPass,
		logLevel:       *logLevel,
		showVersion:    *showVersion,
	}
	if cfg.showVersion {
		return cfg, fs, nil
	}

	if cfg.geminiKey == "" {
		cfg.geminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.geminiKey == "" {
		cfg.geminiKey = os.Getenv("GOOGLE_API_KEY")
	}

	return cfg, fs, cfg.validate()
}

func (c *config) validate() error {
	switch c.dbDriver {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("invalid db driver %q: want bolt or sqlite", c.dbDriver)
	}
	switch c.scannerType {
	case "gemini":
		if c.geminiKey == "" {
			return fmt.Errorf("gemini API key is required: set --gemini-key, GEMINI_API_KEY or GOOGLE_API_KEY")
		}
	case "ollama":
	default:
		return fmt.Errorf("invalid scanner type %q: want gemini or ollama", c.scannerType)
	}
	if c.workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.workers)
	}
	if c.queueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.queueSize)
	}
	if c.scanTimeout <= 0 {
		return fmt.Errorf("scan timeout must be positive, got %s", c.scanTimeout)
	}
	if c.webhookTimeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive, got %s", c.webhookTimeout)
	}
	return nil
}
