// Command cloudauthd serves the cloudauth OAuth subsystem as a standalone
// HTTP daemon. Configuration comes from CLOUDAUTH_* environment variables;
// the only required one is the encryption key.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mwapstack/cloudauth"
	"github.com/mwapstack/cloudauth/instrumentation"
	"github.com/mwapstack/cloudauth/security"
	"github.com/mwapstack/cloudauth/storage"
	memorystore "github.com/mwapstack/cloudauth/storage/memory"
	mongostore "github.com/mwapstack/cloudauth/storage/mongo"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cloudauthd",
	Short: "OAuth authorization and token lifecycle service",
	Long: `cloudauthd manages OAuth integrations with cloud storage providers:
authorization flows (confidential and PKCE), encrypted token storage,
proactive refresh, and security monitoring.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a new base64-encoded AES-256 encryption key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := security.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), security.KeyToBase64(key))
		return nil
	},
}

var (
	listenAddr string
	logLevel   string
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, genkeyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	key, err := loadEncryptionKey()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	integrations, providers, cleanup, err := openStores(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "cloudauthd",
		ServiceVersion: version,
		Enabled:        true,
	})
	if err != nil {
		return fmt.Errorf("initialize instrumentation: %w", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	cfg := cloudauth.Config{
		EncryptionKey:      key,
		ExternalBaseURL:    os.Getenv("CLOUDAUTH_EXTERNAL_BASE_URL"),
		TrustProxy:         envBool("CLOUDAUTH_TRUST_PROXY"),
		EnableAuditLogging: true,
		RateLimit: cloudauth.RateLimitConfig{
			Rate:  envInt("CLOUDAUTH_CALLBACK_RATE", 10),
			Burst: envInt("CLOUDAUTH_CALLBACK_BURST", 20),
		},
		Logger:          logger,
		Instrumentation: inst,
	}

	svc, err := cloudauth.NewService(cfg, integrations, providers)
	if err != nil {
		return err
	}
	defer svc.Close()

	mux := http.NewServeMux()
	cloudauth.NewHandler(svc).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cloudauthd listening", "addr", listenAddr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadEncryptionKey reads the key from CLOUDAUTH_ENCRYPTION_KEY (base64) or
// derives one from CLOUDAUTH_ENCRYPTION_PASSPHRASE and CLOUDAUTH_KEY_SALT.
func loadEncryptionKey() ([]byte, error) {
	if encoded := os.Getenv("CLOUDAUTH_ENCRYPTION_KEY"); encoded != "" {
		return security.KeyFromBase64(encoded)
	}
	if passphrase := os.Getenv("CLOUDAUTH_ENCRYPTION_PASSPHRASE"); passphrase != "" {
		return security.DeriveKey(passphrase, os.Getenv("CLOUDAUTH_KEY_SALT"))
	}
	return nil, fmt.Errorf("CLOUDAUTH_ENCRYPTION_KEY or CLOUDAUTH_ENCRYPTION_PASSPHRASE must be set (run 'cloudauthd genkey')")
}

// openStores connects to MongoDB when CLOUDAUTH_MONGO_URI is set, otherwise
// falls back to the in-memory store for development.
func openStores(ctx context.Context, logger *slog.Logger) (storage.IntegrationStore, storage.ProviderStore, func(), error) {
	uri := os.Getenv("CLOUDAUTH_MONGO_URI")
	if uri == "" {
		logger.Warn("CLOUDAUTH_MONGO_URI not set, using in-memory storage (records will not survive restarts)")
		mem := memorystore.NewStore()
		return mem, mem, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := os.Getenv("CLOUDAUTH_MONGO_DB")
	if dbName == "" {
		dbName = "cloudauth"
	}

	store, err := mongostore.NewStore(connectCtx, client.Database(dbName))
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	logger.Info("connected to mongodb", "database", dbName)
	return store, store, cleanup, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envBool(name string) bool {
	v, _ := strconv.ParseBool(os.Getenv(name))
	return v
}

func envInt(name string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return v
}
