// Command fswatchd runs the filesystem-watch daemon: a single "serve"
// subcommand that loads config.toml, opens the trigger database, and
// accepts connections on a Unix domain socket until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewiresh/fswatchd/internal/clienttable"
	"github.com/codewiresh/fswatchd/internal/config"
	"github.com/codewiresh/fswatchd/internal/logging"
	"github.com/codewiresh/fswatchd/internal/server"
	"github.com/codewiresh/fswatchd/internal/trigger"
)

var dataDirFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fswatchd",
		Short: "Filesystem change watch daemon",
	}
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory (default: ~/.fswatchd)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dataDirFlag
			if dir == "" {
				dir = defaultDataDir()
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}

			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Server.LogLevel))
			slog.SetDefault(logger)

			triggerStore, err := trigger.Open(cfg.Server.DataDir)
			if err != nil {
				logger.Error("failed to open trigger store, triggers disabled", "error", err)
				triggerStore = nil
			} else {
				defer triggerStore.Close()
			}

			pollInterval := time.Duration(cfg.Server.PollIntervalMillis) * time.Millisecond
			srv := server.New(cfg.Server.SocketPath, pollInterval, triggerStore, logger)

			tee := &clienttable.SlogHandler{Table: srv.Clients, Next: logger.Handler()}
			slog.SetDefault(slog.New(tee))
			srv.Logger = slog.Default()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "[fswatchd] shutting down...")
				srv.Shutdown()
				cancel()
			}()

			srv.WatchAuto(ctx, cfg.Server.WatchRoots)

			return srv.Run(ctx)
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fswatchd")
	}
	return filepath.Join(home, ".fswatchd")
}
