package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/CTAG07/talklike/pkg/persist"
	"github.com/CTAG07/talklike/pkg/talklike"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

const defaultConfigPath = "./config.json"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "talklike",
		Short:         "Learns how each user talks and generates text in their style",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (.json, .yaml or .yml)")
	root.AddCommand(serveCmd(), inspectCmd(), trainCmd(), keygenCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "talklike %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted; SIGHUP reloads the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			baseLogger := newLogger(os.Stdout, "info")

			actionChan := make(chan string, 1)

			go func() {
				osSignalChan := make(chan os.Signal, 1)
				signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
				for sig := range osSignalChan {
					if sig == syscall.SIGHUP {
						baseLogger.Info("SIGHUP received, reloading.")
						actionChan <- actionRestart
						continue
					}
					baseLogger.Info("OS signal received, initiating shutdown.")
					actionChan <- actionShutdown
					return
				}
			}()

			for {
				action, err := run(cfgPath, actionChan)
				if err != nil {
					baseLogger.Error("An error occurred during server run, shutting down.", slog.Any("error", err))
					return err
				}
				if action == actionRestart {
					baseLogger.Info("--- Server Restarting ---")
					continue
				}
				break
			}

			baseLogger.Info("talklike has shut down.")
			return nil
		},
	}
}

// newLogger builds a text logger at the named level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// openStore opens the configured backend and loads the store from it. Load
// errors are logged and an empty store is used instead.
func openStore(ctx context.Context, config *Config, logger *slog.Logger) (persist.Persister, *markov.Store, error) {
	persister, err := persist.New(config.Persist.Backend, config.Persist.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", config.Persist.Backend, err)
	}
	if l, ok := persister.(interface{ SetLogger(*slog.Logger) }); ok {
		l.SetLogger(logger)
	}

	store, report, err := persister.Load(ctx, config.Chain.Order)
	if err != nil {
		logger.Error("Failed to load chains, starting with an empty store", slog.String("backend", persister.Name()), slog.Any("error", err))
		if store, err = markov.NewStore(config.Chain.Order); err != nil {
			closePersister(persister, logger)
			return nil, nil, err
		}
	}
	if report != nil {
		logger.Info("Chains loaded",
			slog.String("backend", persister.Name()),
			slog.String("path", config.Persist.Path),
			slog.Int("loaded", report.Loaded),
			slog.Int("skipped", len(report.Skipped)),
			slog.Bool("corrupt", report.Corrupt),
		)
	}
	store.SetLogger(logger)
	return persister, store, nil
}

func closePersister(p persist.Persister, logger *slog.Logger) {
	if c, ok := p.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close store", slog.Any("error", err))
		}
	}
}

// run hosts the API and returns whenever the server is shutdown or restarted.
func run(cfgPath string, actionChan chan string) (string, error) {
	config, err := LoadConfig(cfgPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(os.Stdout, config.Server.LogLevel)
	logger.Info("Starting server cycle...", slog.String("config", cfgPath))

	persister, store, err := openStore(context.Background(), config, logger)
	if err != nil {
		return "", err
	}
	defer closePersister(persister, logger)

	flusher := persist.NewFlusher(store, persister)
	flusher.SetLogger(logger)
	if err = flusher.Start(config.Persist.FlushSchedule); err != nil {
		return "", err
	}

	svc := talklike.New(store, flusher, config.Chain.Generation)
	svc.SetLogger(logger)
	metrics := NewMetrics(
		func() float64 { return float64(store.Len()) },
		func() float64 {
			if flusher.Dirty() {
				return 1
			}
			return 0
		},
	)
	svc.SetObserver(metrics)

	apiHttpServer := &http.Server{
		Addr:              config.Server.ApiAddr,
		Handler:           NewServer(config, logger, svc, flusher, metrics),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       secondsOr(config.Server.ReadTimeout, 60),
		WriteTimeout:      secondsOr(config.Server.WriteTimeout, 60),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting api server", slog.String("address", apiHttpServer.Addr))
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var action string
	select {
	case action = <-actionChan: // Block here until an OS signal sends an action.
	case err = <-serverErr:
		logger.Error("Api server failed", slog.Any("error", err))
		action = actionShutdown
	}

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), secondsOr(config.Server.ShutdownTimeout, 10))
	defer cancel()

	if shutdownErr := apiHttpServer.Shutdown(ctx); shutdownErr != nil {
		logger.Error("Api server shutdown failed", slog.Any("error", shutdownErr))
	}
	if flushErr := flusher.Stop(ctx); flushErr != nil {
		logger.Error("Final flush failed", slog.Any("error", flushErr))
	}
	logger.Info("HTTP server stopped.")

	return action, err
}

// secondsOr converts a config value in seconds, using def when it is not positive.
func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Load the configured store and print per-user statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			config, err := LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), config.Server.LogLevel)

			persister, err := persist.New(config.Persist.Backend, config.Persist.Path)
			if err != nil {
				return err
			}
			defer closePersister(persister, logger)
			if l, ok := persister.(interface{ SetLogger(*slog.Logger) }); ok {
				l.SetLogger(logger)
			}

			store, report, err := persister.Load(cmd.Context(), config.Chain.Order)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"backend": persister.Name(),
				"path":    config.Persist.Path,
				"report":  report,
				"stats":   store.Stats(),
			})
		},
	}
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train --user ID [file...]",
		Short: "Train a user's chain from text files, one message per line (stdin if no files)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			userStr, _ := cmd.Flags().GetString("user")
			user, err := markov.ParseUserID(userStr)
			if err != nil {
				return err
			}
			config, err := LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), config.Server.LogLevel)
			ctx := cmd.Context()

			persister, store, err := openStore(ctx, config, logger)
			if err != nil {
				return err
			}
			defer closePersister(persister, logger)

			svc := talklike.New(store, nil, config.Chain.Generation)
			svc.SetLogger(logger)

			var total int
			if len(args) == 0 {
				if total, err = svc.TrainText(ctx, user, cmd.InOrStdin()); err != nil {
					return err
				}
			}
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				n, err := svc.TrainText(ctx, user, f)
				_ = f.Close()
				total += n
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			if err = persister.Save(ctx, store.Snapshot()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trained %d lines for user %s\n", total, user)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User ID whose chain is trained")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and the config entry that accepts it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scopes, _ := cmd.Flags().GetStringSlice("scopes")
			description, _ := cmd.Flags().GetString("description")

			rawKey, err := generateAPIKey()
			if err != nil {
				return err
			}
			entry, err := json.MarshalIndent(APIKeyConfig{
				KeyHash:     hashAPIKey(rawKey),
				Scopes:      scopes,
				Description: description,
			}, "", "  ")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key: %s\n\nAdd to server_config.api_keys:\n%s\n", rawKey, entry)
			return nil
		},
	}
	cmd.Flags().StringSlice("scopes", []string{scopeMaster}, "Scopes granted to the key")
	cmd.Flags().String("description", "", "Description stored with the key")
	return cmd
}
