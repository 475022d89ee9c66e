// Command insiderwatch is the entry point for the Kalshi insider-trading
// detector. It loads configuration, validates it, wires dependencies, sets
// up signal handling, and starts the application in the configured mode.
//
// With -encrypt-key it instead encrypts a PEM private key for use as
// kalshi.encrypted_key_path and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/insiderwatch/internal/app"
	"github.com/alanyoungcy/insiderwatch/internal/config"
	"github.com/alanyoungcy/insiderwatch/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	mode := flag.String("mode", "", "override the configured mode")
	encryptKey := flag.String("encrypt-key", "", "encrypt this PEM key file and exit")
	out := flag.String("out", "kalshi_key.json", "output path for -encrypt-key")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := runEncryptKey(*encryptKey, *out); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *out))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("insiderwatch starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := application.Run(ctx)
	stop()
	application.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", runErr.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", runErr)
		os.Exit(1)
	}
	logger.Info("insiderwatch stopped")
}

// runEncryptKey reads the password from INSIDERWATCH_KALSHI_KEY_PASSWORD
// (a .env file is honoured).
func runEncryptKey(in, out string) error {
	_ = godotenv.Load()
	password := os.Getenv(config.EnvPrefix + "KALSHI_KEY_PASSWORD")
	if password == "" {
		return errors.New("set " + config.EnvPrefix + "KALSHI_KEY_PASSWORD")
	}
	pemBytes, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	enc, err := crypto.EncryptKey(pemBytes, password)
	if err != nil {
		return err
	}
	return os.WriteFile(out, enc, 0o600)
}
