package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"msgbox/internal/config"
	"msgbox/internal/logging"
	"msgbox/internal/security"
	"msgbox/internal/server"
	"msgbox/internal/store"
)

var (
	configFile  string
	logFile     string
	logLevel    string
	databaseURL string
	host        string
	port        int
	rateLimit   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that receives signed message webhooks.

Configuration is read from defaults, a msgbox.yaml file, a .env file, the
environment and finally the flags below, each overriding the previous.
WEBHOOK_SECRET is required.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to msgbox.yaml (default: search ./, ./config, /etc/msgbox)")
	serveCmd.Flags().StringVar(&logFile, "log", "", "Also append logs to this file")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARNING or ERROR")
	serveCmd.Flags().StringVar(&databaseURL, "database-url", "", "Database URL (sqlite:///path or postgres://...)")
	serveCmd.Flags().StringVar(&host, "host", "", "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().IntVar(&rateLimit, "webhook-rate-limit", 0, "Webhook requests per minute per client IP (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.Setup(cfg.LogFile, level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info("Starting msgbox", "version", version)

	if err := security.ValidateSecret(cfg.WebhookSecret); err != nil {
		logger.Warn("Webhook secret is weak", "reason", err.Error())
	}
	for _, path := range []string{configPath, config.EnvFile} {
		if path == "" {
			continue
		}
		if err := security.ValidateSecurePermissions(path); err != nil {
			logger.Warn("Insecure permissions on file that may hold the webhook secret", "reason", err.Error())
		}
	}

	backend, _, _ := store.ParseURL(cfg.DatabaseURL)
	logger.Info("Opening message store", "backend", string(backend))

	st, err := store.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to open message store", "error", err)
		return fmt.Errorf("failed to open message store: %w", err)
	}
	defer st.Close()

	srv := server.NewServer(st, cfg.WebhookSecret, logger)
	srv.WebhookRateLimit = cfg.WebhookRateLimit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.Addr(), cfg.ShutdownTimeout); err != nil {
		logger.Error("Server failed", "error", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// loadConfig resolves the configuration and applies explicitly set flags.
// It also returns the config file path used, if any.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log") {
		cfg.LogFile = logFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("database-url") {
		cfg.DatabaseURL = databaseURL
	}
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("webhook-rate-limit") {
		cfg.WebhookRateLimit = rateLimit
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, path, nil
}
